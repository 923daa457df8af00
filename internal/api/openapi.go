package api

import (
	"net/http"
	"regexp"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

// Version is reported in the OpenAPI document.
const Version = "1.0.0"

var pathParamRe = regexp.MustCompile(`\{([^}]+)\}`)

// buildOpenAPI describes routes as an OpenAPI 3 document served under /api.
func buildOpenAPI(routes []route) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "duck-sandbox API",
			Description: "Row-level sandboxing gateway for structured queries over DuckDB.",
			Version:     Version,
		},
		Servers: openapi3.Servers{{URL: "/api"}},
		Paths:   &openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{
				"Error": &openapi3.SchemaRef{Value: errorSchema()},
			},
			SecuritySchemes: openapi3.SecuritySchemes{
				"bearerAuth": &openapi3.SecuritySchemeRef{Value: openapi3.NewJWTSecurityScheme()},
				"apiKey": &openapi3.SecuritySchemeRef{Value: &openapi3.SecurityScheme{
					Type: "apiKey",
					In:   "header",
					Name: "X-API-Key",
				}},
			},
		},
		Security: openapi3.SecurityRequirements{
			{"bearerAuth": []string{}},
			{"apiKey": []string{}},
		},
	}

	for _, rt := range routes {
		op := &openapi3.Operation{
			OperationID: rt.opID,
			Summary:     rt.summary,
			Tags:        []string{rt.tag},
			Responses:   &openapi3.Responses{},
		}
		for _, m := range pathParamRe.FindAllStringSubmatch(rt.pattern, -1) {
			op.Parameters = append(op.Parameters, &openapi3.ParameterRef{
				Value: openapi3.NewPathParameter(m[1]).WithSchema(openapi3.NewStringSchema()),
			})
		}
		for _, q := range rt.query {
			schema := openapi3.NewStringSchema()
			if q == "max_results" {
				schema = openapi3.NewIntegerSchema()
			}
			op.Parameters = append(op.Parameters, &openapi3.ParameterRef{
				Value: openapi3.NewQueryParameter(q).WithSchema(schema),
			})
		}
		if rt.body {
			op.RequestBody = &openapi3.RequestBodyRef{
				Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchema(openapi3.NewObjectSchema()),
			}
		}

		success := openapi3.NewResponse().WithDescription(http.StatusText(rt.status))
		if rt.status != http.StatusNoContent {
			success = success.WithJSONSchema(openapi3.NewObjectSchema())
		}
		op.Responses.Set(strconv.Itoa(rt.status), &openapi3.ResponseRef{Value: success})
		op.Responses.Set("default", &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription("Error").
				WithJSONSchemaRef(&openapi3.SchemaRef{Ref: "#/components/schemas/Error", Value: errorSchema()}),
		})

		doc.AddOperation(rt.pattern, rt.method, op)
	}
	return doc
}

func errorSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("status", openapi3.NewStringSchema()).
		WithProperty("error", openapi3.NewStringSchema()).
		WithProperty("error_type", openapi3.NewStringSchema().WithEnum(
			ErrorTypeMissingAttribute,
			ErrorTypePolicyConfig,
			ErrorTypeInvalidRequest,
			ErrorTypeNotFound,
			ErrorTypeAccessDenied,
			ErrorTypeConflict,
			ErrorTypeInternal,
		))
}
