package http

import "slices"

// Input is a labelled form field. Value is what the field shows; Name is
// the form key the handler reads back.
type Input struct {
	Name        string
	Label       string
	Type        string
	Value       string
	Placeholder string
	Required    bool
	// Autocomplete is passed through to the element when set.
	Autocomplete string
}

// Button is a form button. Kind selects the style: primary, secondary or
// danger.
type Button struct {
	Label    string
	Kind     string
	Type     string
	Disabled bool
}

type Option struct {
	Value    string
	Label    string
	Selected bool
}

// Dropdown is a labelled select.
type Dropdown struct {
	Name     string
	Label    string
	Options  []Option
	Required bool
}

func newInput(name, label, typ, value string) Input {
	if typ == "" {
		typ = "text"
	}
	return Input{Name: name, Label: label, Type: typ, Value: value}
}

func required(in Input) Input {
	in.Required = true
	return in
}

func placeholder(text string, in Input) Input {
	in.Placeholder = text
	return in
}

func autocomplete(value string, in Input) Input {
	in.Autocomplete = value
	return in
}

func newButton(label, kind, typ string) Button {
	if kind == "" {
		kind = "primary"
	}
	if typ == "" {
		typ = "submit"
	}
	return Button{Label: label, Kind: kind, Type: typ}
}

// newDropdown builds a select over options. A selected value missing from
// options is kept as an extra, flagged option so editing a row never
// silently changes it.
func newDropdown(name, label string, options []string, selected string) Dropdown {
	d := Dropdown{Name: name, Label: label, Required: true}
	d.Options = append(d.Options, Option{Value: "", Label: "Select " + label, Selected: selected == ""})
	for _, o := range options {
		d.Options = append(d.Options, Option{Value: o, Label: o, Selected: o == selected})
	}
	if selected != "" && !slices.Contains(options, selected) {
		d.Options = append(d.Options, Option{Value: selected, Label: selected + " (missing)", Selected: true})
	}
	return d
}
