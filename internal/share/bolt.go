package share

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/splitit/internal/bill"
)

const (
	billsBucketName = "bills"
	itemsBucketName = "bill_items"
)

// BoltStore implements Store using BoltDB. Bill headers and items live in
// separate buckets and are written in one Update transaction.
type BoltStore struct {
	db *bbolt.DB
}

type boltHeader struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	OwnerID   string    `json:"owner_id"`
	Total     string    `json:"total"`
	ItemCount int       `json:"item_count"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(billsBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(itemsBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func itemKey(id string, index int) []byte {
	return []byte(fmt.Sprintf("%s/%06d", id, index))
}

// CreateBill saves the record header and its items in a single transaction.
func (b *BoltStore) CreateBill(ctx context.Context, record *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bills := tx.Bucket([]byte(billsBucketName))
		if bills.Get([]byte(record.ID)) != nil {
			return fmt.Errorf("bill %s already exists", record.ID)
		}

		header, err := json.Marshal(boltHeader{
			ID:        record.ID,
			Code:      record.Code,
			OwnerID:   record.OwnerID,
			Total:     record.Total.String(),
			ItemCount: len(record.Items),
			CreatedAt: record.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("marshaling bill: %w", err)
		}
		if err := bills.Put([]byte(record.ID), header); err != nil {
			return fmt.Errorf("saving bill: %w", err)
		}

		items := tx.Bucket([]byte(itemsBucketName))
		for i, item := range record.Items {
			data, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("marshaling item %d: %w", i, err)
			}
			if err := items.Put(itemKey(record.ID, i), data); err != nil {
				return fmt.Errorf("saving item %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetBill retrieves a record by ID
func (b *BoltStore) GetBill(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(billsBucketName)).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		var header boltHeader
		if err := json.Unmarshal(data, &header); err != nil {
			return fmt.Errorf("unmarshaling bill: %w", err)
		}
		r, err := header.record()
		if err != nil {
			return err
		}

		prefix := []byte(id + "/")
		c := tx.Bucket([]byte(itemsBucketName)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var item bill.Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling item %s: %w", k, err)
			}
			r.Items = append(r.Items, item)
		}
		if len(r.Items) != header.ItemCount {
			return fmt.Errorf("bill %s has %d items, expected %d", id, len(r.Items), header.ItemCount)
		}

		record = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (h boltHeader) record() (*Record, error) {
	total, err := parseTotal(h.Total)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:        h.ID,
		Code:      h.Code,
		OwnerID:   h.OwnerID,
		Total:     total,
		Items:     make([]bill.Item, 0, h.ItemCount),
		CreatedAt: h.CreatedAt,
	}, nil
}
