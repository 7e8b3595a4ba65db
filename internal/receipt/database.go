package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/receipt-scan/internal/suggest"
)

const (
	expenseBucketName  = "expenses"
	draftBucketName    = "drafts"
	categoryBucketName = "categories"
)

// DB defines the interface for database operations. Every record is
// scoped to one family or user.
type DB interface {
	// SaveExpense saves an expense to the database
	SaveExpense(expense *Expense) error

	// GetExpense retrieves an expense by ID
	GetExpense(scope, id string) (*Expense, error)

	// ListExpenses returns the scope's expenses, newest first
	ListExpenses(scope string) ([]*Expense, error)

	// DeleteExpense removes an expense from the database
	DeleteExpense(scope, id string) error

	SaveDraft(draft *Draft) error
	GetDraft(scope, id string) (*Draft, error)
	DeleteDraft(scope, id string) error

	SaveCategory(scope string, category suggest.Category) error
	ListCategories(scope string) ([]suggest.Category, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. It also serves as the
// default history for category suggestions.
type BoltDB struct {
	db *bbolt.DB
}

var (
	_ DB                     = (*BoltDB)(nil)
	_ suggest.HistoryReader  = (*BoltDB)(nil)
	_ suggest.CategorySource = (*BoltDB)(nil)
)

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{expenseBucketName, draftBucketName, categoryBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// key prefixes ids with their scope so a scope is one contiguous range.
// Scopes never contain the separator, so one scope's range cannot hold
// another's keys.
func key(scope, id string) ([]byte, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	return []byte(scope + "/" + id), nil
}

func put(tx *bbolt.Tx, bucket string, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", bucket, err)
	}
	return tx.Bucket([]byte(bucket)).Put(k, data)
}

func get(tx *bbolt.Tx, bucket string, k []byte, v any) error {
	data := tx.Bucket([]byte(bucket)).Get(k)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

// eachInScope calls fn for every value stored under scope.
func eachInScope(tx *bbolt.Tx, bucket, scope string, fn func(v []byte) error) error {
	prefix, err := key(scope, "")
	if err != nil {
		return err
	}
	c := tx.Bucket([]byte(bucket)).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// SaveExpense saves an expense to the database
func (b *BoltDB) SaveExpense(expense *Expense) error {
	k, err := key(expense.Scope, expense.ID)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, expenseBucketName, k, expense)
	})
}

// GetExpense retrieves an expense by ID
func (b *BoltDB) GetExpense(scope, id string) (*Expense, error) {
	k, err := key(scope, id)
	if err != nil {
		return nil, err
	}
	var expense *Expense
	err = b.db.View(func(tx *bbolt.Tx) error {
		return get(tx, expenseBucketName, k, &expense)
	})
	if err != nil {
		return nil, fmt.Errorf("expense %s: %w", id, err)
	}
	return expense, nil
}

// ListExpenses returns the scope's expenses, newest first
func (b *BoltDB) ListExpenses(scope string) ([]*Expense, error) {
	expenses := make([]*Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return eachInScope(tx, expenseBucketName, scope, func(v []byte) error {
			var expense Expense
			if err := json.Unmarshal(v, &expense); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			expenses = append(expenses, &expense)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].Date.After(expenses[j].Date)
	})
	return expenses, nil
}

// DeleteExpense removes an expense from the database
func (b *BoltDB) DeleteExpense(scope, id string) error {
	k, err := key(scope, id)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(expenseBucketName)).Delete(k)
	})
}

// SaveDraft saves a draft to the database
func (b *BoltDB) SaveDraft(draft *Draft) error {
	k, err := key(draft.Scope, draft.ID)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, draftBucketName, k, draft)
	})
}

// GetDraft retrieves a draft by ID
func (b *BoltDB) GetDraft(scope, id string) (*Draft, error) {
	k, err := key(scope, id)
	if err != nil {
		return nil, err
	}
	var draft *Draft
	err = b.db.View(func(tx *bbolt.Tx) error {
		return get(tx, draftBucketName, k, &draft)
	})
	if err != nil {
		return nil, fmt.Errorf("draft %s: %w", id, err)
	}
	return draft, nil
}

// DeleteDraft removes a draft from the database
func (b *BoltDB) DeleteDraft(scope, id string) error {
	k, err := key(scope, id)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(draftBucketName)).Delete(k)
	})
}

// SaveCategory creates or renames a category
func (b *BoltDB) SaveCategory(scope string, category suggest.Category) error {
	k, err := key(scope, category.ID)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, categoryBucketName, k, category)
	})
}

// ListCategories returns the scope's categories ordered by ID
func (b *BoltDB) ListCategories(scope string) ([]suggest.Category, error) {
	categories := make([]suggest.Category, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return eachInScope(tx, categoryBucketName, scope, func(v []byte) error {
			var c suggest.Category
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("unmarshaling category: %w", err)
			}
			categories = append(categories, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return categories, nil
}

// Categories implements suggest.CategorySource.
func (b *BoltDB) Categories(_ context.Context, scope string) ([]suggest.Category, error) {
	return b.ListCategories(scope)
}

// Window implements suggest.HistoryReader over confirmed expenses.
func (b *BoltDB) Window(_ context.Context, scope string, since time.Time) (suggest.History, error) {
	var h suggest.History
	err := b.db.View(func(tx *bbolt.Tx) error {
		return eachInScope(tx, expenseBucketName, scope, func(v []byte) error {
			var expense Expense
			if err := json.Unmarshal(v, &expense); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			if expense.Date.Before(since) {
				return nil
			}
			h.Expenses = append(h.Expenses, suggest.Expense{
				ID:         expense.ID,
				Date:       expense.Date,
				RecordedAt: expense.CreatedAt,
				Merchant:   expense.Merchant,
				CategoryID: expense.CategoryID,
			})
			for _, item := range expense.LineItems {
				h.LineItems = append(h.LineItems, suggest.LineItem{
					ExpenseID:           expense.ID,
					Description:         item.Description,
					CategoryID:          item.CategoryID,
					SuggestedCategoryID: item.SuggestedCategoryID,
					CategoryConfidence:  item.CategoryConfidence,
				})
			}
			return nil
		})
	})
	if err != nil {
		return suggest.History{}, fmt.Errorf("reading history: %w", err)
	}
	return h, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
