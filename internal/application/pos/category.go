package pos

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
)

var categoryFields = []direct{
	{remote: "description", internal: "description"},
	{remote: "link_rewrite", internal: "link_rewrite"},
	{remote: "meta_description", internal: "meta_description"},
	{remote: "meta_keywords", internal: "meta_keywords"},
	{remote: "meta_title", internal: "meta_title"},
	{remote: "active", internal: "active"},
	{remote: "position", internal: "position"},
}

// CategoryImportMapper maps POS product categories
type CategoryImportMapper struct{}

// MapForImport implements connector.ImportMapper
func (CategoryImportMapper) MapForImport(ctx context.Context, w connector.MapContext, record connector.Record, forCreate bool) (connector.Values, error) {
	values := connector.Values{}
	importDirect(record, values, categoryFields)
	values["name"] = record.String("name")
	parent, err := resolveRef(ctx, w, EntityProductCategory, record.String("id_parent"))
	if err != nil {
		return nil, err
	}
	if parent != "" {
		values["parent_id"] = parent
	}
	mapDates(w.Backend(), record, values)
	return values, nil
}

// CategoryExportMapper maps internal categories to the POS
type CategoryExportMapper struct{}

// MapForExport implements connector.ExportMapper
func (CategoryExportMapper) MapForExport(ctx context.Context, w connector.MapContext, record *connector.InternalRecord, forCreate bool) (connector.Values, error) {
	values := connector.Values{}
	exportDirect(record, values, categoryFields)
	values["name"] = record.Values.String("name")
	parent, err := resolveExternal(ctx, w, EntityProductCategory, refValue(record.Values, "parent_id"))
	if err != nil {
		return nil, err
	}
	values["id_parent"] = parent
	return values, nil
}

// ChangedFields implements connector.ExportMapper
func (CategoryExportMapper) ChangedFields() mapset.Set[string] {
	return internalFields(categoryFields, "name", "parent_id")
}

func importParentCategory(ctx context.Context, w *appconnector.WorkContext, record connector.Record) error {
	parent := record.String("id_parent")
	if isNoneID(parent) {
		return nil
	}
	return appconnector.ImportDependency(ctx, w, EntityProductCategory, parent, false)
}

func exportParentCategory(ctx context.Context, w *appconnector.WorkContext, record *connector.InternalRecord, opts appconnector.ExportOptions) error {
	return appconnector.ExportDependency(ctx, w, EntityProductCategory, refValue(record.Values, "parent_id"), opts.ForceSync)
}

func categoryEntity() entity {
	return entity{
		entityType: EntityProductCategory,
		resource:   ResourceCategories,
		importer: appconnector.RecordImporterConfig{
			Mapper:         CategoryImportMapper{},
			Hooks:          appconnector.ImportHooks{ImportDependencies: importParentCategory},
			UpdatedAtField: UpdatedAtField,
		},
		export:      CategoryExportMapper{},
		exportHooks: appconnector.ExportHooks{ExportDependencies: exportParentCategory},
		validator: newRuleValidator(map[string]string{
			"name": "required,max=128",
		}),
		batchMode: appconnector.BatchDirect,
	}
}
