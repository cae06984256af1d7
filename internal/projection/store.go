package projection

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/pkg/canonical"
)

var (
	ordersBucket        = []byte("orders")
	lotsBucket          = []byte("lots")
	shipmentCostsBucket = []byte("shipment_costs")
)

// Store persists Engine snapshots to an embedded bbolt database, one
// bucket per view. bbolt never becomes the source of truth: it is a
// cache that lets a restart skip replaying the whole ledger before
// serving reads, and it can be erased and refilled at any time.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (creating if absent) the bbolt file at path and
// ensures the view buckets exist.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("projection: open bbolt: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{ordersBucket, lotsBucket, shipmentCostsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("projection: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func orderToCanonical(o *OrderView) canonical.Map {
	items := make(canonical.List, len(o.Items))
	for i, it := range o.Items {
		items[i] = canonical.Map{
			"sku":        it.SKU,
			"qty":        it.Qty,
			"unit_price": it.UnitPrice,
		}
	}
	return canonical.Map{
		"order_id":       o.OrderID,
		"customer_ref":   o.CustomerRef,
		"channel":        o.Channel,
		"items":          items,
		"status":         string(o.Status),
		"paid_cents":     o.PaidCents,
		"shipped_qty":    o.ShippedQty,
		"refunded_cents": o.RefundedCents,
		"updated_at":     o.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func orderFromCanonical(m canonical.Map) *OrderView {
	items := listField(m, "items")
	parsedItems := make([]events.OrderItem, 0, len(items))
	for _, raw := range items {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		parsedItems = append(parsedItems, events.OrderItem{
			SKU:       strField(item, "sku"),
			Qty:       int64Field(item, "qty"),
			UnitPrice: int64Field(item, "unit_price"),
		})
	}
	updatedAt, _ := time.Parse(time.RFC3339Nano, strField(m, "updated_at"))
	return &OrderView{
		OrderID:       strField(m, "order_id"),
		CustomerRef:   strField(m, "customer_ref"),
		Channel:       strField(m, "channel"),
		Items:         parsedItems,
		Status:        OrderStatus(strField(m, "status")),
		PaidCents:     int64Field(m, "paid_cents"),
		ShippedQty:    int64Field(m, "shipped_qty"),
		RefundedCents: int64Field(m, "refunded_cents"),
		UpdatedAt:     updatedAt,
	}
}

func lotToCanonical(l *InventoryLot) canonical.Map {
	return canonical.Map{
		"sku":             l.SKU,
		"batch_id":        l.BatchID,
		"qty_on_hand":     l.QtyOnHand,
		"unit_cost_cents": l.UnitCostCents,
		"expiry_date":     l.ExpiryDate,
		"updated_at":      l.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func lotFromCanonical(m canonical.Map) *InventoryLot {
	updatedAt, _ := time.Parse(time.RFC3339Nano, strField(m, "updated_at"))
	return &InventoryLot{
		SKU:           strField(m, "sku"),
		BatchID:       strField(m, "batch_id"),
		QtyOnHand:     int64Field(m, "qty_on_hand"),
		UnitCostCents: int64Field(m, "unit_cost_cents"),
		ExpiryDate:    strField(m, "expiry_date"),
		UpdatedAt:     updatedAt,
	}
}

// Persist writes a full snapshot of e's current state, replacing
// whatever was previously stored.
func (s *Store) Persist(e *Engine) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{ordersBucket, lotsBucket, shipmentCostsBucket} {
			if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}

		orders := tx.Bucket(ordersBucket)
		for _, o := range e.Orders() {
			b, err := canonical.ToBytes(orderToCanonical(o))
			if err != nil {
				return fmt.Errorf("projection: encode order %s: %w", o.OrderID, err)
			}
			if err := orders.Put([]byte(o.OrderID), b); err != nil {
				return err
			}
		}

		lots := tx.Bucket(lotsBucket)
		for _, l := range e.Lots() {
			b, err := canonical.ToBytes(lotToCanonical(l))
			if err != nil {
				return fmt.Errorf("projection: encode lot %s/%s: %w", l.SKU, l.BatchID, err)
			}
			if err := lots.Put([]byte(l.SKU+"|"+l.BatchID), b); err != nil {
				return err
			}
		}

		costs := tx.Bucket(shipmentCostsBucket)
		for eventID, cost := range e.ShipmentCosts() {
			b, err := canonical.ToBytes(cost)
			if err != nil {
				return err
			}
			if err := costs.Put([]byte(eventID.String()), b); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load reconstructs an Engine from the last Persist call, without
// replaying any ledger rows. Used to warm-start a process; the caller is
// still responsible for applying any rows appended since the snapshot.
func (s *Store) Load() (*Engine, error) {
	e := New()
	err := s.db.View(func(tx *bbolt.Tx) error {
		if orders := tx.Bucket(ordersBucket); orders != nil {
			if err := orders.ForEach(func(k, v []byte) error {
				decoded, err := canonical.FromBytes(v)
				if err != nil {
					return err
				}
				m, ok := decoded.(canonical.Map)
				if !ok {
					return fmt.Errorf("projection: order %s: not a map", k)
				}
				o := orderFromCanonical(m)
				e.orders[o.OrderID] = o
				return nil
			}); err != nil {
				return err
			}
		}

		if lots := tx.Bucket(lotsBucket); lots != nil {
			if err := lots.ForEach(func(k, v []byte) error {
				decoded, err := canonical.FromBytes(v)
				if err != nil {
					return err
				}
				m, ok := decoded.(canonical.Map)
				if !ok {
					return fmt.Errorf("projection: lot %s: not a map", k)
				}
				l := lotFromCanonical(m)
				key := lotKey{sku: l.SKU, batchID: l.BatchID}
				e.lots[key] = l
				e.lotOrder = append(e.lotOrder, key)
				return nil
			}); err != nil {
				return err
			}
		}

		if costs := tx.Bucket(shipmentCostsBucket); costs != nil {
			if err := costs.ForEach(func(k, v []byte) error {
				decoded, err := canonical.FromBytes(v)
				if err != nil {
					return err
				}
				n, ok := decoded.(int64)
				if !ok {
					return fmt.Errorf("projection: shipment cost %s: not an integer", k)
				}
				id, err := uuid.Parse(string(k))
				if err != nil {
					return err
				}
				e.shipmentCosts[id] = n
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}
