package pos

import (
	"context"
	"fmt"
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SaleImportRule decides whether a POS order may be imported now
type SaleImportRule struct {
	cfg Config
}

// NewSaleImportRule creates the sale import rule
func NewSaleImportRule(cfg Config) *SaleImportRule {
	return &SaleImportRule{cfg: cfg}
}

// Check returns a NothingToDo error for orders that are never imported and a
// retryable error for orders that will be importable later.
func (r *SaleImportRule) Check(backend *connector.Backend, record connector.Record) error {
	state := record.String("status")
	if !backend.IsOrderStateImportable(state) {
		return connector.NewNothingToDoError(fmt.Sprintf(
			"Import of the order with POS ID=%s canceled because its state is not importable", record.String("id")))
	}

	method := record.String("payment_method")
	switch r.cfg.paymentRule(method) {
	case PaymentRuleNever:
		return connector.NewNothingToDoError(fmt.Sprintf(
			"Orders with payment modes %s are never imported.", method))
	case PaymentRulePaid:
		if parseAmount(record.String("total_paid")).IsZero() {
			return &connector.SyncError{
				Kind:       connector.KindRetryableBusy,
				Message:    "The order has not been paid.\nThe import will be retried later.",
				RetryAfter: r.cfg.UnpaidRetryAfter,
			}
		}
	}
	return nil
}

// orderHooks holds the per-import state of the sale order hooks
type orderHooks struct {
	rule *SaleImportRule
}

func (h orderHooks) hasToSkip(ctx context.Context, w *appconnector.WorkContext, record connector.Record, binding *connector.Binding) (string, error) {
	if binding != nil {
		return fmt.Sprintf("Sale order %s is already imported.", record.String("id")), nil
	}
	if err := h.rule.Check(w.Backend(), record); err != nil {
		return "", err
	}
	return "", nil
}

// importDependencies imports the customer, then the product of every line.
// A product that cannot be imported leaves its line without product.
func (h orderHooks) importDependencies(ctx context.Context, w *appconnector.WorkContext, record connector.Record) error {
	if err := appconnector.ImportDependency(ctx, w, EntityCustomer, record.String("user_id"), false); err != nil {
		return err
	}
	for _, row := range record.List("order_rows") {
		product := row.Nested("product")
		if product == nil {
			continue
		}
		templateID := product.String("id")
		if err := appconnector.ImportDependency(ctx, w, EntityProductTemplate, templateID, false); err != nil {
			if isTransient(err) {
				return err
			}
			w.Logger().Error("POS product could not be imported",
				zap.String("external_id", templateID),
				zap.Error(err),
			)
		}
		variantID := product.String("variant_id")
		if isNoneID(variantID) {
			continue
		}
		if err := appconnector.ImportDependency(ctx, w, EntityProductVariant, variantID, false); err != nil {
			if isTransient(err) {
				return err
			}
			w.Logger().Error("POS variant could not be imported",
				zap.String("external_id", variantID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// isTransient reports lock and concurrency failures, which must abort the
// whole import so that it is retried
func isTransient(err error) bool {
	switch connector.KindOf(err) {
	case connector.KindRetryableBusy, connector.KindRetryableConcurrent:
		return true
	}
	return false
}

// recordStore is implemented by work contexts giving access to internal records
type recordStore interface {
	Store() appconnector.Store
}

// SaleOrderImportMapper maps POS orders to sale orders
type SaleOrderImportMapper struct{}

// MapForImport implements connector.ImportMapper
func (m SaleOrderImportMapper) MapForImport(ctx context.Context, w connector.MapContext, record connector.Record, forCreate bool) (connector.Values, error) {
	backend := w.Backend()
	values := connector.Values{
		"pos_invoice_number":  record.String("id"),
		"pos_delivery_number": record.String("delivery_phone"),
		"payment_method":      record.String("payment_method"),
		"state":               "sale",
	}

	partner, err := resolveRef(ctx, w, EntityCustomer, record.String("user_id"))
	if err != nil {
		return nil, err
	}
	values["partner_id"] = partner

	if forCreate {
		name, err := m.uniqueName(ctx, w, record)
		if err != nil {
			return nil, err
		}
		values["name"] = name
	}

	lines := make([]map[string]any, 0)
	linesTotal := decimal.Zero
	for _, row := range record.List("order_rows") {
		line, subtotal, err := m.mapLine(ctx, w, row)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
		linesTotal = linesTotal.Add(subtotal)
	}
	values["order_lines"] = lines

	totalField := "total_tax_excl"
	if backend.TaxesIncluded {
		totalField = "total_tax_incl"
	}
	total := linesTotal
	if raw := record.String(totalField); raw != "" {
		total = parseAmount(raw)
	}
	values["amount_total"] = total.StringFixed(2)
	values["amount_paid"] = parseAmount(record.String("total_paid")).StringFixed(2)
	values["taxes_included"] = backend.TaxesIncluded
	values["date_order"] = formatDate(parseDate(backend, record.String("created_at"), time.Now()))
	return values, nil
}

func (m SaleOrderImportMapper) mapLine(ctx context.Context, w connector.MapContext, row connector.Record) (map[string]any, decimal.Decimal, error) {
	product := row.Nested("product")
	qty := parseAmount(row.String("quantity"))
	var price decimal.Decimal
	if variant := product.Nested("variant"); variant != nil {
		price = parseAmount(variant.String("extend_price"))
	} else {
		price = parseAmount(product.String("price"))
	}

	line := map[string]any{
		"pos_id":          row.String("id"),
		"name":            product.String("name"),
		"product_uom_qty": qty.String(),
		"price_unit":      price.String(),
	}

	// prefer the variant, fall back to the template, keep the line without product otherwise
	if variantID := product.String("variant_id"); !isNoneID(variantID) {
		if ref, ok, err := w.InternalRefFor(ctx, EntityProductVariant, variantID); err != nil {
			return nil, decimal.Zero, err
		} else if ok {
			line["product_id"] = ref.String()
		}
	}
	if _, ok := line["product_id"]; !ok {
		if ref, ok, err := w.InternalRefFor(ctx, EntityProductTemplate, product.String("id")); err != nil {
			return nil, decimal.Zero, err
		} else if ok {
			line["product_tmpl_id"] = ref.String()
		}
	}
	return line, qty.Mul(price), nil
}

// uniqueName returns the POS transaction name, suffixed until no other sale
// order uses it
func (m SaleOrderImportMapper) uniqueName(ctx context.Context, w connector.MapContext, record connector.Record) (string, error) {
	base := record.String("order_transaction")
	if base == "" {
		base = "POS-" + record.String("id")
	}
	rs, ok := w.(recordStore)
	if !ok {
		return base, nil
	}
	name := base
	for i := 1; ; i++ {
		existing, err := rs.Store().Records().FindByValue(ctx, EntitySaleOrder, "name", name)
		if err != nil {
			return "", err
		}
		if len(existing) == 0 {
			return name, nil
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

func saleOrderEntity(cfg Config) entity {
	hooks := orderHooks{rule: NewSaleImportRule(cfg)}
	return entity{
		entityType: EntitySaleOrder,
		resource:   ResourceOrders,
		importer: appconnector.RecordImporterConfig{
			Mapper: SaleOrderImportMapper{},
			Hooks: appconnector.ImportHooks{
				HasToSkip:          hooks.hasToSkip,
				ImportDependencies: hooks.importDependencies,
			},
		},
		validator: newRuleValidator(map[string]string{
			"name":         "required",
			"partner_id":   "required,uuid",
			"amount_total": "numeric",
		}),
		batchMode: cfg.OrderBatchMode,
	}
}
