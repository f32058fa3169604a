package conf

import (
	"strconv"
	"strings"

	"gopkg.in/alecthomas/kingpin.v2"
)

const listDelimiter = ","

// StringListValue is a custom kingpin parser which resolves a flag's
// parameters consisting of a string slice delimited by `listDelimiter`.
// For a flag defined like this:
// `flag = StringList(kingpin.Flag("flag_name", "help"))`
//
// When the user specifies options `--flag_name=A,B,C --flag_name=D` the flag
// value will be a slice with A,B,C,D items.
//
// Tested in SliceFlag (conf_test.go).
type StringListValue []string

// Set parses the input string and appends the items to the slice.
// Implements kingpin.Value.
func (s *StringListValue) Set(value string) error {
	*s = append(*s, strings.Split(value, listDelimiter)...)
	return nil
}

// String returns the string form of StringListValue. Implements kingpin.Value.
func (s *StringListValue) String() string {
	return strings.Join(*s, listDelimiter)
}

// Get returns the underlying slice. Implements kingpin.Getter.
func (s StringListValue) Get() interface{} {
	return []string(s)
}

// IsCumulative implements the optional kingpin interface for flags that can
// be repeated.
func (s *StringListValue) IsCumulative() bool {
	return true
}

// StringList is a helper for defining kingpin flags.
func StringList(s kingpin.Settings) (target *[]string) {
	target = new([]string)
	s.SetValue((*StringListValue)(target))
	return
}

// IntListValue is a custom kingpin parser like StringListValue but for
// integer items. Used for sweep dimensions, e.g. `--clients=60,70,80`.
type IntListValue []int

// Set parses the input string and appends the items to the slice.
// Implements kingpin.Value.
func (i *IntListValue) Set(value string) error {
	for _, item := range strings.Split(value, listDelimiter) {
		parsed, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil {
			return err
		}
		*i = append(*i, parsed)
	}
	return nil
}

// String returns the string form of IntListValue. Implements kingpin.Value.
func (i *IntListValue) String() string {
	items := make([]string, 0, len(*i))
	for _, item := range *i {
		items = append(items, strconv.Itoa(item))
	}
	return strings.Join(items, listDelimiter)
}

// Get returns the underlying slice. Implements kingpin.Getter.
func (i IntListValue) Get() interface{} {
	return []int(i)
}

// IsCumulative implements the optional kingpin interface for flags that can
// be repeated.
func (i *IntListValue) IsCumulative() bool {
	return true
}

// IntList is a helper for defining kingpin flags.
func IntList(s kingpin.Settings) (target *[]int) {
	target = new([]int)
	s.SetValue((*IntListValue)(target))
	return
}
