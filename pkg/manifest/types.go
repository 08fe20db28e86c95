// Package manifest loads declarative contract documents. A document names
// the types, operations and channels of a bridge using the type expression
// syntax of package schema; Apply binds it to handlers.
package manifest

// Document is the root of a contract document.
type Document struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Types       []TypeDecl  `yaml:"types,omitempty" json:"types,omitempty"`
	Operations  []Operation `yaml:"operations" json:"operations"`
	Channels    []Channel   `yaml:"channels,omitempty" json:"channels,omitempty"`
}

// TypeDecl declares a named type.
type TypeDecl struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// Operation declares one callable operation. Exactly one of TextErrors or
// Errors is set.
type Operation struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Params      []Param  `yaml:"params,omitempty" json:"params,omitempty"`
	Output      string   `yaml:"output" json:"output"`
	Errors      []string `yaml:"errors,omitempty" json:"errors,omitempty"`
	TextErrors  bool     `yaml:"textErrors,omitempty" json:"textErrors,omitempty"`
}

// Param is one operation parameter.
type Param struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// Channel declares one event channel.
type Channel struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Payload     string `yaml:"payload" json:"payload"`
}
