package set

// Item is anything storeable in a Set.
type Item interface {
	Key() string
}

// StringItem is an Item whose key is itself, mostly for testing.
type StringItem string

func (item StringItem) Key() string {
	return string(item)
}
