package omnicas

// Attribute is a name/value pair of a tag or of a clip description.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AttributeCollection is an ordered snapshot of attributes. Later changes to
// the tag or clip are not reflected.
type AttributeCollection []Attribute

// Get returns the value of the first attribute called name.
func (c AttributeCollection) Get(name string) (string, bool) {
	for _, a := range c {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Names returns the attribute names in order.
func (c AttributeCollection) Names() []string {
	names := make([]string, len(c))
	for i, a := range c {
		names[i] = a.Name
	}
	return names
}

// Map returns the attributes keyed by name. Later duplicates win.
func (c AttributeCollection) Map() map[string]string {
	m := make(map[string]string, len(c))
	for _, a := range c {
		m[a.Name] = a.Value
	}
	return m
}

// readAttributes collects count name/value pairs through at.
func readAttributes(count int, at func(i int, name, value []byte) (int, int, error)) (AttributeCollection, error) {
	attrs := make(AttributeCollection, 0, count)
	for i := range count {
		name, value, err := readPair(func(name, value []byte) (int, int, error) {
			return at(i, name, value)
		})
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, Attribute{Name: name, Value: value})
	}
	return attrs, nil
}
