package telemetry

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type gormHookFunc func(name string, fn func(*gorm.DB)) error

// registerAround registers before and after around the main step of every
// gorm operation, named "<name>:before_<op>" and "<name>:after_<op>". With
// ahead set, after runs before the "<ahead><op>" callback of another plugin.
func registerAround(db *gorm.DB, name, ahead string, before func(*gorm.DB), after func(*gorm.DB, string)) error {
	next := func(op string) string {
		if ahead == "" {
			return ""
		}
		return ahead + op
	}

	cb := db.Callback()
	hooks := []struct {
		op            string
		before, after gormHookFunc
	}{
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Before(next("create")).Register},
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Before(next("query")).Register},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Before(next("update")).Register},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Before(next("delete")).Register},
		{"row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Before(next("row")).Register},
		{"raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Before(next("raw")).Register},
	}

	var errs []error
	for _, h := range hooks {
		op := h.op
		errs = append(errs,
			h.before(name+":before_"+op, before),
			h.after(name+":after_"+op, func(tx *gorm.DB) { after(tx, op) }),
		)
	}
	return errors.Join(errs...)
}

// startTimer stores the start of the statement under key
func startTimer(key string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		tx.InstanceSet(key, time.Now())
	}
}

// elapsed returns the time since startTimer ran for the statement
func elapsed(tx *gorm.DB, key string) (time.Duration, bool) {
	v, ok := tx.InstanceGet(key)
	if !ok {
		return 0, false
	}
	started, ok := v.(time.Time)
	if !ok {
		return 0, false
	}
	return time.Since(started), true
}
