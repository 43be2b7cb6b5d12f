package store

import (
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/q"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/mastercactapus/deliverybot/routine"
)

// RobotID identifies this robot's status record.
const RobotID = "1"

// ErrOrderNotFound is returned when an order ID has no record.
var ErrOrderNotFound = errors.New("order not found")

// Item is one line of an order.
type Item struct {
	SKU    string `json:"sku"`
	Status string `json:"status"`
}

// Order is a tracked customer order.
type Order struct {
	ID       string `storm:"id" json:"id"`
	State    string `json:"state"`
	Items    []Item `json:"items"`
	Archived bool   `json:"archived"`
}

// Robot is the singleton robot status record.
type Robot struct {
	ID        string    `storm:"id" json:"id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DB is an order-tracking store backed by an embedded database file.
type DB struct {
	db *storm.DB
}

var _ routine.Tracker = &DB{}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	db, err := storm.Open(path, storm.BoltOptions(0600, &bolt.Options{Timeout: time.Second}))
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", path)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// SaveOrder creates or replaces an order.
func (d *DB) SaveOrder(o *Order) error {
	return d.db.Save(o)
}

// Order returns a single order.
func (d *DB) Order(id string) (*Order, error) {
	var o Order
	err := d.db.One("ID", id, &o)
	if err == storm.ErrNotFound {
		return nil, errors.Wrap(ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Orders returns every order that has not been archived.
func (d *DB) Orders() ([]Order, error) {
	var orders []Order
	err := d.db.Select(q.Eq("Archived", false)).Find(&orders)
	if err == storm.ErrNotFound {
		return nil, nil
	}
	return orders, err
}

// Robot returns the robot status record.
func (d *DB) Robot() (*Robot, error) {
	var r Robot
	err := d.db.One("ID", RobotID, &r)
	if err == storm.ErrNotFound {
		return &Robot{ID: RobotID, Status: routine.StatusIdle}, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (d *DB) updateOrder(id string, fn func(*Order)) error {
	tx, err := d.db.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var o Order
	err = tx.One("ID", id, &o)
	if err == storm.ErrNotFound {
		return errors.Wrap(ErrOrderNotFound, id)
	}
	if err != nil {
		return err
	}
	fn(&o)
	err = tx.Save(&o)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) UpdateOrderStatus(id, status string) error {
	return d.updateOrder(id, func(o *Order) { o.State = status })
}

func (d *DB) SetItemsStatus(id, status string) error {
	return d.updateOrder(id, func(o *Order) {
		for i := range o.Items {
			o.Items[i].Status = status
		}
	})
}

func (d *DB) ArchiveOrder(id string) error {
	return d.updateOrder(id, func(o *Order) { o.Archived = true })
}

func (d *DB) UpdateRobotStatus(status string) error {
	return d.db.Save(&Robot{ID: RobotID, Status: status, UpdatedAt: time.Now()})
}
