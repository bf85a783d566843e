package consumer

import "github.com/cuemby/dfms/pkg/types"

// stringOption returns the string value of the first recognized option
// named name, or def if absent or not a string (spec §4.4: "recognized
// options are declared per consumer class").
func stringOption(opts []types.Option, name, def string) string {
	for _, o := range opts {
		if o.Name == name {
			if s, ok := o.Value.(string); ok {
				return s
			}
		}
	}
	return def
}
