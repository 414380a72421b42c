package pos

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ruleValidator checks mapped values against validator tags keyed by field.
// On update, only the fields present in the values are checked.
type ruleValidator struct {
	rules map[string]string
}

func newRuleValidator(rules map[string]string) *ruleValidator {
	return &ruleValidator{rules: rules}
}

// Validate implements connector.Validator
func (v *ruleValidator) Validate(ctx context.Context, values connector.Values, forCreate bool) error {
	data := make(map[string]any, len(v.rules))
	rules := make(map[string]any, len(v.rules))
	for field, rule := range v.rules {
		value, ok := values[field]
		if !ok && !forCreate {
			continue
		}
		data[field] = value
		rules[field] = rule
	}
	failures := validate.ValidateMapCtx(ctx, data, rules)
	if len(failures) == 0 {
		return nil
	}

	fields := make([]string, 0, len(failures))
	for field := range failures {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	details := make([]string, 0, len(fields))
	for _, field := range fields {
		details = append(details, fmt.Sprintf("%s: %v", field, failures[field]))
	}
	return connector.NewInvalidDataError("Mapped values are invalid", fmt.Errorf("%s", strings.Join(details, "; ")))
}
