package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	// Allow whitelists sortable columns; SortBy outside it is ignored.
	Allow map[string]bool
}

// QueryOption mutates a query before it is executed by the repository.
type QueryOption func(*gorm.DB) *gorm.DB

// LockingUpdate is a gorm scope adding SELECT ... FOR UPDATE.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		order := strings.ToUpper(s.OrderBy)
		if order != "ASC" && order != "DESC" {
			order = "ASC"
		}
		if s.SortBy == "" || !s.Allow[s.SortBy] {
			return db
		}
		return db.Order(fmt.Sprintf("%s %s", s.SortBy, order))
	}
}

func ApplyOperator(c Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		switch c.Operator {
		case EQ, NEQ, GT, GTE, LT, LTE:
			return db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
		default:
			return db
		}
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

func WithOffset(offset int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if offset <= 0 {
			return db
		}
		return db.Offset(offset)
	}
}
