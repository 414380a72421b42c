package pos

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// direct maps a POS field to an internal field as-is
type direct struct {
	remote   string
	internal string
}

func importDirect(record connector.Record, values connector.Values, fields []direct) {
	for _, f := range fields {
		if v, ok := record[f.remote]; ok && v != nil {
			values[f.internal] = v
		}
	}
}

func exportDirect(record *connector.InternalRecord, values connector.Values, fields []direct) {
	for _, f := range fields {
		if v, ok := record.Values[f.internal]; ok {
			values[f.remote] = v
		}
	}
}

func internalFields(fields []direct, extra ...string) mapset.Set[string] {
	set := mapset.NewSet(extra...)
	for _, f := range fields {
		set.Add(f.internal)
	}
	return set
}

// isNoneID reports whether a POS foreign key designates no record
func isNoneID(id string) bool {
	return id == "" || id == "0"
}

// refValue returns the internal reference held at key, uuid.Nil when unset
func refValue(values connector.Values, key string) uuid.UUID {
	switch v := values[key].(type) {
	case uuid.UUID:
		return v
	case string:
		if id, err := uuid.Parse(v); err == nil {
			return id
		}
	}
	return uuid.Nil
}

// resolveRef maps a POS foreign key to the internal reference of its binding.
// The dependency must have been imported before mapping.
func resolveRef(ctx context.Context, w connector.MapContext, entityType connector.EntityType, externalID string) (string, error) {
	if isNoneID(externalID) {
		return "", nil
	}
	ref, ok, err := w.InternalRefFor(ctx, entityType, externalID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", connector.NewInvalidDataError(
			fmt.Sprintf("%s %s on POS is not imported", entityType, externalID), nil)
	}
	return ref.String(), nil
}

// resolveExternal maps an internal reference to the POS ID of its binding
func resolveExternal(ctx context.Context, w connector.MapContext, entityType connector.EntityType, ref uuid.UUID) (string, error) {
	if ref == uuid.Nil {
		return "0", nil
	}
	id, ok, err := w.ExternalIDFor(ctx, entityType, ref)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", connector.NewInvalidDataError(
			fmt.Sprintf("%s %s is not exported to POS", entityType, ref), nil)
	}
	return id, nil
}

// parseAmount parses a POS amount, zero when empty or malformed
func parseAmount(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// amountValue reads an amount stored in internal values
func amountValue(values connector.Values, key string) decimal.Decimal {
	return parseAmount(values.String(key))
}
