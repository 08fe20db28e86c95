package commsutil

import "testing"

const embeddedTestPrefix = "commsutil:embedded_test"

func TestStartEmbedded_AcceptsClients(t *testing.T) {
	ns, err := StartEmbedded(EmbeddedOpts{})
	if err != nil {
		t.Fatalf("%s - StartEmbedded failed: %v", embeddedTestPrefix, err)
	}
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}()

	nc, err := Connect(ConnectOpts{URL: ns.ClientURL(), Name: "embedded-test"})
	if err != nil {
		t.Fatalf("%s - Connect failed: %v", embeddedTestPrefix, err)
	}
	defer nc.Close()

	if !nc.IsConnected() {
		t.Errorf("%s - expected connected client", embeddedTestPrefix)
	}
}
