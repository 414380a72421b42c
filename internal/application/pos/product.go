package pos

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"go.uber.org/zap"
)

// Internal quantity fields
const (
	fieldQtyAvailable            = "qty_available"
	fieldQtyAvailableNotReserved = "qty_available_not_res"
)

var templateFields = []direct{
	{remote: "available_for_order", internal: "available_for_order"},
	{remote: "on_sale", internal: "on_sale"},
	{remote: "low_stock_threshold", internal: "low_stock_threshold"},
	{remote: "low_stock_alert", internal: "low_stock_alert"},
	{remote: "description", internal: "description"},
	{remote: "barcode", internal: "barcode"},
}

var variantFields = []direct{
	{remote: "name", internal: "name"},
	{remote: "variant_barcode", internal: "barcode"},
}

// ---------------------------------------------------------------------------
// Product templates
// ---------------------------------------------------------------------------

// TemplateImportMapper maps POS products to product templates
type TemplateImportMapper struct{}

// MapForImport implements connector.ImportMapper
func (TemplateImportMapper) MapForImport(ctx context.Context, w connector.MapContext, record connector.Record, forCreate bool) (connector.Values, error) {
	backend := w.Backend()
	values := connector.Values{}
	importDirect(record, values, templateFields)

	name := record.String("name")
	if name == "" {
		name = "noname"
	}
	values["name"] = name
	values["list_price"] = parseAmount(record.String("price")).String()
	values["wholesale_price"] = parseAmount(record.String("price")).String()
	values["type"] = "product"
	values["sale_ok"] = true
	values["purchase_ok"] = true
	values["invoice_policy"] = "order"
	values["always_available"] = record.String("deleted_at") == ""

	if len(record.List("variants")) == 0 {
		values["standard_price"] = parseAmount(record.String("price")).String()
		values["weight"] = parseAmount(record.String("weight")).String()
		code := record.String("reference")
		if code == "" {
			code = fmt.Sprintf("backend_%s_product_%s", backend.ID, record.String("id"))
		}
		values["default_code"] = code
	}

	visibility := record.String("visibility")
	switch visibility {
	case "both", "catalog", "search":
	default:
		visibility = "none"
	}
	values["visibility"] = visibility

	category, err := resolveRef(ctx, w, EntityProductCategory, record.String("category_id"))
	if err != nil {
		return nil, err
	}
	if category != "" {
		values["categ_id"] = category
	}
	if forCreate {
		values[fieldQtyAvailable] = parseAmount(record.String("stock_qty")).String()
	}
	mapDates(backend, record, values)
	return values, nil
}

// TemplateExportMapper maps product templates to POS products
type TemplateExportMapper struct{}

// MapForExport implements connector.ExportMapper
func (TemplateExportMapper) MapForExport(ctx context.Context, w connector.MapContext, record *connector.InternalRecord, forCreate bool) (connector.Values, error) {
	values := connector.Values{}
	exportDirect(record, values, templateFields)
	values["name"] = record.Values.String("name")
	values["reference"] = record.Values.String("default_code")
	values["price"] = amountValue(record.Values, "list_price").String()
	values["stock_qty"] = exportedQuantity(w.Backend(), record.Values)
	category, err := resolveExternal(ctx, w, EntityProductCategory, refValue(record.Values, "categ_id"))
	if err != nil {
		return nil, err
	}
	values["category_id"] = category
	return values, nil
}

// ChangedFields implements connector.ExportMapper
func (TemplateExportMapper) ChangedFields() mapset.Set[string] {
	return internalFields(templateFields,
		"name", "default_code", "list_price", "categ_id", fieldQtyAvailable, fieldQtyAvailableNotReserved)
}

// exportedQuantity returns the quantity pushed to the POS, never negative
func exportedQuantity(backend *connector.Backend, values connector.Values) string {
	field := fieldQtyAvailable
	if backend.ProductQtyField == connector.QtyAvailableNotReserved {
		field = fieldQtyAvailableNotReserved
	}
	qty := amountValue(values, field)
	if qty.IsNegative() {
		return "0"
	}
	return qty.Truncate(0).String()
}

func importTemplateDependencies(ctx context.Context, w *appconnector.WorkContext, record connector.Record) error {
	category := record.String("category_id")
	if isNoneID(category) {
		return nil
	}
	return appconnector.ImportDependency(ctx, w, EntityProductCategory, category, false)
}

// importVariants re-imports every variant of a freshly imported template
func importVariants(ctx context.Context, w *appconnector.WorkContext, record connector.Record, binding *connector.Binding, internal *connector.InternalRecord) error {
	for _, variant := range record.List("variants") {
		if err := appconnector.ImportDependency(ctx, w.WithParent(record), EntityProductVariant, variant.String("id"), true); err != nil {
			return err
		}
	}
	return nil
}

func exportTemplateDependencies(ctx context.Context, w *appconnector.WorkContext, record *connector.InternalRecord, opts appconnector.ExportOptions) error {
	return appconnector.ExportDependency(ctx, w, EntityProductCategory, refValue(record.Values, "categ_id"), opts.ForceSync)
}

// matchTemplate binds an unbound POS product to the existing template holding
// the same barcode or reference. Only the quantity of the matched template is
// updated and the import ends as skipped.
func matchTemplate(ctx context.Context, w *appconnector.WorkContext, record connector.Record, binding *connector.Binding) (string, error) {
	backend := w.Backend()
	if binding != nil || backend.MatchingProductField == connector.ProductMatchNone {
		return "", nil
	}

	var internalField string
	switch backend.MatchingProductField {
	case connector.ProductMatchReference:
		internalField = "default_code"
	case connector.ProductMatchBarcode:
		internalField = "barcode"
	}
	code := record.String(string(backend.MatchingProductField))
	if code == "" {
		return "", nil
	}

	candidates, err := w.Store().Records().FindByValue(ctx, EntityProductTemplate, internalField, code)
	if err != nil {
		return "", err
	}
	switch len(candidates) {
	case 0:
		return "", nil
	case 1:
	default:
		return "", connector.NewInvalidDataError(
			fmt.Sprintf("Multiple products found with %s %s. Maybe consider to update your data", internalField, code), nil)
	}
	template := candidates[0]

	env := w.Env()
	binder, err := env.Registry.Binder(env, EntityProductTemplate)
	if err != nil {
		return "", err
	}
	if extID, _, err := binder.ToExternal(ctx, w, template.ID, false); err != nil {
		return "", err
	} else if extID != "" {
		return "", nil
	}
	if _, err := binder.Bind(ctx, w, record.String("id"), template.ID); err != nil {
		return "", err
	}

	template.Apply(connector.Values{fieldQtyAvailable: parseAmount(record.String("stock_qty")).String()})
	if err := w.Store().Records().Save(ctx, &template); err != nil {
		return "", err
	}
	w.Logger().Info("Product matched with an existing template",
		zap.String("external_id", record.String("id")),
		zap.String("internal_ref", template.ID.String()),
		zap.String("match_field", internalField),
	)
	return fmt.Sprintf("Product %s matched with existing template %s, quantity updated.", record.String("id"), template.ID), nil
}

func productTemplateEntity() entity {
	return entity{
		entityType: EntityProductTemplate,
		resource:   ResourceProducts,
		importer: appconnector.RecordImporterConfig{
			Mapper: TemplateImportMapper{},
			Hooks: appconnector.ImportHooks{
				HasToSkip:          matchTemplate,
				ImportDependencies: importTemplateDependencies,
				AfterImport:        importVariants,
			},
			UpdatedAtField: UpdatedAtField,
		},
		export:      TemplateExportMapper{},
		exportHooks: appconnector.ExportHooks{ExportDependencies: exportTemplateDependencies},
		validator: newRuleValidator(map[string]string{
			"name":       "required,max=255",
			"list_price": "omitempty,numeric",
			"visibility": "oneof=both catalog search none",
		}),
		batchMode: appconnector.BatchDelayed,
		autoMatch: &appconnector.AutoMatcherConfig{
			RemoteField:   "reference",
			InternalField: "default_code",
		},
	}
}

// ---------------------------------------------------------------------------
// Product variants
// ---------------------------------------------------------------------------

// VariantImportMapper maps POS product variants
type VariantImportMapper struct{}

// MapForImport implements connector.ImportMapper
func (VariantImportMapper) MapForImport(ctx context.Context, w connector.MapContext, record connector.Record, forCreate bool) (connector.Values, error) {
	values := connector.Values{}
	importDirect(record, values, variantFields)
	values["default_code"] = record.String("reference")
	values["price_extra"] = parseAmount(record.String("extend_price")).String()
	template, err := resolveRef(ctx, w, EntityProductTemplate, record.String("product_id"))
	if err != nil {
		return nil, err
	}
	if template == "" {
		return nil, connector.NewInvalidDataError(
			fmt.Sprintf("Variant %s has no product template", record.String("id")), nil)
	}
	values["product_tmpl_id"] = template
	values[fieldQtyAvailable] = parseAmount(record.String("stock_qty")).String()
	mapDates(w.Backend(), record, values)
	return values, nil
}

// VariantExportMapper maps product variants to the POS
type VariantExportMapper struct{}

// MapForExport implements connector.ExportMapper
func (VariantExportMapper) MapForExport(ctx context.Context, w connector.MapContext, record *connector.InternalRecord, forCreate bool) (connector.Values, error) {
	values := connector.Values{}
	exportDirect(record, values, variantFields)
	values["reference"] = record.Values.String("default_code")
	values["extend_price"] = amountValue(record.Values, "price_extra").String()
	values["stock_qty"] = exportedQuantity(w.Backend(), record.Values)
	template, err := resolveExternal(ctx, w, EntityProductTemplate, refValue(record.Values, "product_tmpl_id"))
	if err != nil {
		return nil, err
	}
	values["product_id"] = template
	return values, nil
}

// ChangedFields implements connector.ExportMapper
func (VariantExportMapper) ChangedFields() mapset.Set[string] {
	return internalFields(variantFields,
		"default_code", "price_extra", "product_tmpl_id", fieldQtyAvailable, fieldQtyAvailableNotReserved)
}

func importVariantTemplate(ctx context.Context, w *appconnector.WorkContext, record connector.Record) error {
	return appconnector.ImportDependency(ctx, w, EntityProductTemplate, record.String("product_id"), false)
}

func exportVariantTemplate(ctx context.Context, w *appconnector.WorkContext, record *connector.InternalRecord, opts appconnector.ExportOptions) error {
	return appconnector.ExportDependency(ctx, w, EntityProductTemplate, refValue(record.Values, "product_tmpl_id"), opts.ForceSync)
}

func productVariantEntity() entity {
	return entity{
		entityType: EntityProductVariant,
		resource:   ResourceProductVariants,
		importer: appconnector.RecordImporterConfig{
			Mapper:         VariantImportMapper{},
			Hooks:          appconnector.ImportHooks{ImportDependencies: importVariantTemplate},
			UpdatedAtField: UpdatedAtField,
		},
		export:      VariantExportMapper{},
		exportHooks: appconnector.ExportHooks{ExportDependencies: exportVariantTemplate},
		validator: newRuleValidator(map[string]string{
			"product_tmpl_id": "required,uuid",
			"price_extra":     "numeric",
		}),
		batchMode: appconnector.BatchDelayed,
	}
}
