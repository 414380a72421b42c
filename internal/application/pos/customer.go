package pos

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
)

var customerFields = []direct{
	{remote: "address", internal: "city"},
	{remote: "email", internal: "email"},
	{remote: "company", internal: "company"},
	{remote: "active", internal: "active"},
	{remote: "note", internal: "comment"},
	{remote: "ref", internal: "ref"},
}

// CustomerImportMapper maps POS customers
type CustomerImportMapper struct{}

// MapForImport implements connector.ImportMapper
func (CustomerImportMapper) MapForImport(ctx context.Context, w connector.MapContext, record connector.Record, forCreate bool) (connector.Values, error) {
	values := connector.Values{}
	importDirect(record, values, customerFields)
	values["name"] = record.String("name")
	values["phone"] = record.String("phone_number")
	values["is_company"] = record.String("company") != ""
	mapDates(w.Backend(), record, values)
	return values, nil
}

// CustomerExportMapper maps internal customers to the POS
type CustomerExportMapper struct{}

// MapForExport implements connector.ExportMapper
func (CustomerExportMapper) MapForExport(ctx context.Context, w connector.MapContext, record *connector.InternalRecord, forCreate bool) (connector.Values, error) {
	values := connector.Values{}
	exportDirect(record, values, customerFields)
	if name, ok := record.Values["name"]; ok {
		values["name"] = name
	}
	if phone, ok := record.Values["phone"]; ok {
		values["phone_number"] = phone
	}
	return values, nil
}

// ChangedFields implements connector.ExportMapper
func (CustomerExportMapper) ChangedFields() mapset.Set[string] {
	return internalFields(customerFields, "name", "phone")
}

func customerEntity() entity {
	return entity{
		entityType: EntityCustomer,
		resource:   ResourceCustomers,
		importer: appconnector.RecordImporterConfig{
			Mapper:         CustomerImportMapper{},
			UpdatedAtField: UpdatedAtField,
		},
		export: CustomerExportMapper{},
		validator: newRuleValidator(map[string]string{
			"name":  "max=255",
			"email": "omitempty,email",
		}),
		batchMode: appconnector.BatchDelayed,
		autoMatch: &appconnector.AutoMatcherConfig{
			RemoteField:   "ref",
			InternalField: "ref",
		},
		matchEnabled: func(backend *connector.Backend) bool { return backend.MatchingCustomer },
	}
}
