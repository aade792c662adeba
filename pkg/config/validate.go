package config

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks field constraints and the cross-field rules the tags cannot
// express, and reports every violation in one error.
func (c *Config) Validate() error {
	problems := make(map[string]string)

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		for _, fe := range verrs {
			problems[fe.Namespace()] = describe(fe)
		}
	}

	// names are checked here rather than with a unique tag so that a duplicate
	// does not stop the per-unit checks
	seen := make(map[string]bool, len(c.Units))
	for i, u := range c.Units {
		if u.Name != "" && seen[u.Name] {
			problems["Config.Units"] = "The Units entries must have unique Name values."
		}
		seen[u.Name] = true
		for id := range u.CriticalOverrides {
			if int64(id) >= int64(u.Size) {
				problems[fmt.Sprintf("Config.Units[%d].CriticalOverrides", i)] =
					fmt.Sprintf("The CriticalOverrides of %s name unit %d outside Size %d.", u.Name, id, u.Size)
			}
		}
	}

	if c.Ledger.SweepInterval == 0 && c.Ledger.StaleAfter > 0 {
		problems["Config.Ledger.SweepInterval"] = "The SweepInterval must be set when StaleAfter is."
	}
	if c.API.Listen != "" {
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			problems["Config.API.Listen"] = fmt.Sprintf("The Listen address is invalid: %v.", err)
		}
	}
	if _, err := c.Policy(); err != nil {
		problems["Config.Ledger.Estimates"] = fmt.Sprintf("The Estimates are invalid: %v.", err)
	}

	if len(problems) == 0 {
		return nil
	}
	keys := make([]string, 0, len(problems))
	for k := range problems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, problems[k])
	}
	return fmt.Errorf("invalid config: %s", strings.Join(lines, " "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", fe.Field())
	case "min", "gte":
		return fmt.Sprintf("The %s must be at least %s.", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("The %s must be at most %s.", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("The %s must be greater than %s.", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("The %s must be one of [%s].", fe.Field(), fe.Param())
	case "gtefield":
		return fmt.Sprintf("The %s must not be below %s.", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("The %s field is invalid.", fe.Field())
	}
}
