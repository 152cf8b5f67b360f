package interceptor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wisbric/agentcore/pkg/errs"
)

var schemaValidate = validator.New(validator.WithRequiredStructEnabled())

// SchemaGuardStage validates the request body against the matched
// route's declared schema on the request half, and the buffered response
// body against its declared response schema on the response half — the
// one stage present in both halves of the chain.
type SchemaGuardStage struct{}

func (SchemaGuardStage) Name() string { return "SchemaGuard" }

func (SchemaGuardStage) HandleRequest(ctx context.Context, req Request, ic *Context) (StageOutcome, error) {
	if ic.Route == nil || len(ic.Route.RequestSchema) == 0 {
		return Continue, nil
	}
	body, err := req.Body(ctx)
	if err != nil {
		return Continue, errs.New(errs.SchemaValidationFailed).WithDevMessage("reading request body: " + err.Error())
	}
	ic.RequestBody = body

	var decoded map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &decoded); err != nil {
			return Continue, errs.New(errs.SchemaValidationFailed).WithDevMessage("request body is not valid JSON")
		}
	}
	if err := validateFields(ic.Route.RequestSchema, decoded); err != nil {
		return Continue, err
	}
	return Continue, nil
}

func (SchemaGuardStage) HandleResponse(_ context.Context, ic *Context) error {
	if ic.Route == nil || len(ic.Route.ResponseSchema) == 0 || ic.IdempotencyReplay {
		return nil
	}
	var decoded map[string]any
	if len(ic.ResponseBody) > 0 {
		if err := json.Unmarshal(ic.ResponseBody, &decoded); err != nil {
			return errs.New(errs.SchemaValidationFailed).WithDevMessage("response body is not valid JSON")
		}
	}
	return validateFields(ic.Route.ResponseSchema, decoded)
}

// validateFields runs each FieldRule against body, mirroring
// pkg/tools/manifest.go's validateFields for tool argument schemas.
func validateFields(schema []FieldRule, body map[string]any) error {
	var problems []string
	for _, field := range schema {
		value, present := body[field.Name]
		if !present {
			if field.Required {
				problems = append(problems, fmt.Sprintf("%s: required", field.Name))
			}
			continue
		}
		if field.Rule == "" {
			continue
		}
		if err := schemaValidate.Var(value, field.Rule); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %s", field.Name, err.Error()))
		}
	}
	if len(problems) > 0 {
		return errs.New(errs.SchemaValidationFailed).WithDevMessage("field validation failed: " + strings.Join(problems, "; "))
	}
	return nil
}
