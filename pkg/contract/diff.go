package contract

import "fmt"

// Subject is the kind of contract entry a change touches.
type Subject string

const (
	SubjectOperation Subject = "operation"
	SubjectChannel   Subject = "channel"
	SubjectType      Subject = "type"
)

// ChangeKind says what happened to an entry.
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Removed ChangeKind = "removed"
	Changed ChangeKind = "changed"
)

// Change is one difference between two manifests.
type Change struct {
	Subject  Subject    `json:"subject"`
	Kind     ChangeKind `json:"kind"`
	Name     string     `json:"name"`
	Breaking bool       `json:"breaking"`
	Detail   string     `json:"detail,omitempty"`
}

func (c Change) String() string {
	tag := "additive"
	if c.Breaking {
		tag = "breaking"
	}
	if c.Detail == "" {
		return fmt.Sprintf("%s %s %s (%s)", c.Kind, c.Subject, c.Name, tag)
	}
	return fmt.Sprintf("%s %s %s: %s (%s)", c.Kind, c.Subject, c.Name, c.Detail, tag)
}

// Diff lists the changes from prev to next, sorted by subject then name.
// Removals and signature changes break consumers; additions do not, and
// neither do trailing optional parameters added to an existing operation.
// Any change to an error set is breaking because consumers match on the
// discriminant exhaustively.
func Diff(prev, next *Manifest) []Change {
	var changes []Change

	for _, name := range sortedKeys(prev.Operations) {
		before := prev.Operations[name]
		after, ok := next.Operations[name]
		if !ok {
			changes = append(changes, Change{Subject: SubjectOperation, Kind: Removed, Name: name, Breaking: true})
			continue
		}
		changes = append(changes, diffOperation(name, before, after)...)
	}
	for _, name := range sortedKeys(next.Operations) {
		if _, ok := prev.Operations[name]; !ok {
			changes = append(changes, Change{Subject: SubjectOperation, Kind: Added, Name: name})
		}
	}

	changes = append(changes, diffStrings(SubjectChannel, prev.Channels, next.Channels)...)
	changes = append(changes, diffStrings(SubjectType, prev.Types, next.Types)...)
	return changes
}

func diffOperation(name string, before, after OperationEntry) []Change {
	var changes []Change
	if before.Output != after.Output {
		changes = append(changes, Change{
			Subject: SubjectOperation, Kind: Changed, Name: name, Breaking: true,
			Detail: fmt.Sprintf("output %s -> %s", before.Output, after.Output),
		})
	}
	if before.Error != after.Error {
		changes = append(changes, Change{
			Subject: SubjectOperation, Kind: Changed, Name: name, Breaking: true,
			Detail: fmt.Sprintf("error %s -> %s", before.Error, after.Error),
		})
	}
	if before.paramsString() != after.paramsString() {
		changes = append(changes, Change{
			Subject: SubjectOperation, Kind: Changed, Name: name,
			Breaking: !onlyOptionalAppended(before.Params, after.Params),
			Detail:   fmt.Sprintf("params %s -> %s", before.paramsString(), after.paramsString()),
		})
	}
	return changes
}

func onlyOptionalAppended(before, after []ParamEntry) bool {
	if len(after) <= len(before) {
		return false
	}
	for i, p := range before {
		if after[i].Name != p.Name || after[i].Type != p.Type {
			return false
		}
	}
	for _, p := range after[len(before):] {
		if !p.Optional {
			return false
		}
	}
	return true
}

func diffStrings(subject Subject, prev, next map[string]string) []Change {
	var changes []Change
	for _, name := range sortedKeys(prev) {
		after, ok := next[name]
		switch {
		case !ok:
			changes = append(changes, Change{Subject: subject, Kind: Removed, Name: name, Breaking: true})
		case after != prev[name]:
			changes = append(changes, Change{
				Subject: subject, Kind: Changed, Name: name, Breaking: true,
				Detail: fmt.Sprintf("%s -> %s", prev[name], after),
			})
		}
	}
	for _, name := range sortedKeys(next) {
		if _, ok := prev[name]; !ok {
			changes = append(changes, Change{Subject: subject, Kind: Added, Name: name})
		}
	}
	return changes
}

// Breaking reports whether any change breaks consumers.
func Breaking(changes []Change) bool {
	for _, c := range changes {
		if c.Breaking {
			return true
		}
	}
	return false
}
