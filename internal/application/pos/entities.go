// Package pos registers the concrete POS entities (customers, categories,
// products and sale orders) on top of the generic connector components.
package pos

import (
	"context"
	"fmt"
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
)

// Entity types synchronized with the POS
const (
	EntityCustomer        connector.EntityType = "customer"
	EntityProductCategory connector.EntityType = "product_category"
	EntityProductTemplate connector.EntityType = "product_template"
	EntityProductVariant  connector.EntityType = "product_variant"
	EntitySaleOrder       connector.EntityType = "sale_order"
)

// POS resources of each entity type
const (
	ResourceCustomers       = "customers"
	ResourceCategories      = "categories"
	ResourceProducts        = "products"
	ResourceProductVariants = "product_variants"
	ResourceOrders          = "orders"
)

// UpdatedAtField is the POS modification date field
const UpdatedAtField = "updated_at"

// PaymentRule decides whether an order paid with a payment method is imported
type PaymentRule string

const (
	// PaymentRuleAlways imports the order whatever its payment
	PaymentRuleAlways PaymentRule = "always"
	// PaymentRuleNever never imports orders with the payment method
	PaymentRuleNever PaymentRule = "never"
	// PaymentRulePaid imports the order once a payment was received
	PaymentRulePaid PaymentRule = "paid"
)

// IsValid returns true if the rule is known
func (r PaymentRule) IsValid() bool {
	switch r {
	case PaymentRuleAlways, PaymentRuleNever, PaymentRulePaid:
		return true
	}
	return false
}

// Config tunes the POS entities
type Config struct {
	// PaymentRules maps a POS payment method to its import rule
	PaymentRules map[string]PaymentRule
	// DefaultPaymentRule applies to payment methods missing from PaymentRules
	DefaultPaymentRule PaymentRule
	// UnpaidRetryAfter delays the next attempt of an unpaid order import
	UnpaidRetryAfter time.Duration
	// LockRetry bounds the wait for the import advisory lock
	LockRetry time.Duration
	// OrderBatchMode selects how found orders are imported
	OrderBatchMode appconnector.BatchMode
}

// DefaultConfig returns the default entity configuration
func DefaultConfig() Config {
	return Config{
		PaymentRules:       map[string]PaymentRule{},
		DefaultPaymentRule: PaymentRuleAlways,
		UnpaidRetryAfter:   30 * time.Minute,
		LockRetry:          connector.RetryOnAdvisoryLock,
		OrderBatchMode:     appconnector.BatchDelayed,
	}
}

func (c Config) paymentRule(method string) PaymentRule {
	if rule, ok := c.PaymentRules[method]; ok && rule.IsValid() {
		return rule
	}
	if c.DefaultPaymentRule.IsValid() {
		return c.DefaultPaymentRule
	}
	return PaymentRuleAlways
}

// RefreshChain is the order in which a refresh imports entity types
func RefreshChain() []connector.EntityType {
	return []connector.EntityType{
		EntityProductCategory,
		EntityCustomer,
		EntityProductTemplate,
		EntitySaleOrder,
	}
}

// Priorities returns the batch job priority of each entity type
func Priorities() map[connector.EntityType]int {
	return map[connector.EntityType]int{
		EntityCustomer:        15,
		EntityProductCategory: appconnector.DefaultJobPriority,
		EntityProductTemplate: appconnector.DefaultJobPriority,
		EntitySaleOrder:       appconnector.DefaultJobPriority,
	}
}

// entity gathers the components of one entity type
type entity struct {
	entityType  connector.EntityType
	resource    string
	importer    appconnector.RecordImporterConfig
	export      connector.ExportMapper
	exportHooks appconnector.ExportHooks
	validator   appconnector.Validator
	batchMode   appconnector.BatchMode
	autoMatch   *appconnector.AutoMatcherConfig

	// matchEnabled gates the auto-matcher per backend (optional)
	matchEnabled func(backend *connector.Backend) bool
}

// Register adds every POS entity to registry
func Register(registry *appconnector.Registry, cfg Config) {
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = connector.RetryOnAdvisoryLock
	}
	if cfg.OrderBatchMode == "" {
		cfg.OrderBatchMode = appconnector.BatchDelayed
	}
	for _, e := range entities(cfg) {
		register(registry, e, cfg)
	}
}

func register(r *appconnector.Registry, e entity, cfg Config) {
	r.RegisterResource(e.entityType, e.resource)
	r.Register(e.entityType, appconnector.RoleBinder, appconnector.BinderFactory(e.entityType))

	importCfg := e.importer
	importCfg.EntityType = e.entityType
	importCfg.Validator = e.validator
	importCfg.LockRetry = cfg.LockRetry
	r.Register(e.entityType, appconnector.RoleImporter, appconnector.RecordImporterFactory(importCfg))

	mode := e.batchMode
	if mode == "" {
		mode = appconnector.BatchDelayed
	}
	r.Register(e.entityType, appconnector.RoleBatchImporter, appconnector.BatchImporterFactory(e.entityType, mode))

	if e.export != nil {
		export := e.export
		r.Register(e.entityType, appconnector.RoleExportMapper, func(*appconnector.Environment) (any, error) {
			return export, nil
		})
		r.Register(e.entityType, appconnector.RoleExporter, appconnector.RecordExporterFactory(appconnector.RecordExporterConfig{
			EntityType: e.entityType,
			Hooks:      e.exportHooks,
		}))
	}
	r.Register(e.entityType, appconnector.RoleDeleter, appconnector.DeleterFactory(e.entityType))

	if e.autoMatch != nil {
		matchCfg := *e.autoMatch
		matchCfg.EntityType = e.entityType
		factory := appconnector.AutoMatcherFactory(matchCfg)
		if enabled := e.matchEnabled; enabled != nil {
			factory = func(env *appconnector.Environment) (any, error) {
				if !enabled(env.Backend) {
					return disabledMatcher{entityType: matchCfg.EntityType}, nil
				}
				return appconnector.NewAutoMatcher(matchCfg), nil
			}
		}
		r.Register(e.entityType, appconnector.RoleAutoMatcher, factory)
	}
}

// disabledMatcher is registered when matching is turned off on the backend
type disabledMatcher struct {
	entityType connector.EntityType
}

func (m disabledMatcher) Run(ctx context.Context, w *appconnector.WorkContext) (appconnector.MatchReport, error) {
	return appconnector.MatchReport{}, connector.NewNothingToDoError(
		fmt.Sprintf("Matching of %s is disabled on backend %s", m.entityType, w.Backend().Name))
}

func entities(cfg Config) []entity {
	return []entity{
		customerEntity(),
		categoryEntity(),
		productTemplateEntity(),
		productVariantEntity(),
		saleOrderEntity(cfg),
	}
}
