package main

import (
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"log"
	"net/http"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mastercactapus/deliverybot/machine"
	"github.com/mastercactapus/deliverybot/routine"
	"github.com/mastercactapus/deliverybot/store"
)

// Positions is the live position source, normally a *machine.Store.
type Positions interface {
	Snapshot() machine.Snapshot
	Updated() <-chan struct{}
}

// Orders is the order-tracking store.
type Orders interface {
	Order(id string) (*store.Order, error)
	Orders() ([]store.Order, error)
	Robot() (*store.Robot, error)
}

type api struct {
	http.Handler

	// ctx bounds routines started over HTTP; a dropped client does not stop the robot.
	ctx    context.Context
	runner *routine.Runner
	pos    Positions
	orders Orders
	sse    *sse.Server
	ws     websocket.Upgrader
}

type positionJSON struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Z               float64 `json:"z"`
	Known           bool    `json:"known"`
	StoppedBySensor bool    `json:"stoppedBySensor"`
	Seq             uint64  `json:"seq"`
}

func newPositionJSON(s machine.Snapshot) positionJSON {
	return positionJSON{
		X:               s.Position.X,
		Y:               s.Position.Y,
		Z:               s.Position.Z,
		Known:           s.Known,
		StoppedBySensor: s.StoppedBySensor,
		Seq:             s.Seq,
	}
}

func newAPI(ctx context.Context, runner *routine.Runner, pos Positions, orders Orders) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		ctx:     ctx,
		runner:  runner,
		pos:     pos,
		orders:  orders,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(ioutil.Discard, "", 0),
		}),
		ws: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r.HandleFunc("/delivery", a.routine("delivery")).Methods("GET")
	r.HandleFunc("/return", a.routine("return")).Methods("GET")
	r.HandleFunc("/api/run/{name}", a.run).Methods("POST")
	r.HandleFunc("/api/abort", a.abort).Methods("POST")
	r.HandleFunc("/api/status", a.status).Methods("GET")
	r.HandleFunc("/api/position", a.position).Methods("GET")
	r.HandleFunc("/api/orders", a.listOrders).Methods("GET")
	r.HandleFunc("/api/orders/{id}", a.order).Methods("GET")
	r.HandleFunc("/ws/position", a.positionStream)
	r.PathPrefix("/events/").Handler(a.sse)

	events, unsub := runner.Subscribe()
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-events:
				a.sendEvent("/events/status", e)
			}
		}
	}()
	go func() {
		for {
			ch := pos.Updated()
			select {
			case <-ctx.Done():
				return
			case <-ch:
				a.sendEvent("/events/position", newPositionJSON(pos.Snapshot()))
			}
		}
	}()

	return a
}

func (a *api) Close() { a.sse.Shutdown() }

func (a *api) sendEvent(channel string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("ERROR: marshal json: %+v", err)
		return
	}
	a.sse.SendMessage(channel, sse.SimpleMessage(string(data)))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Println("ERROR: encode:", err)
	}
}

func (a *api) routine(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		a.runRoutine(w, name, req.FormValue("order_id"))
	}
}

func (a *api) run(w http.ResponseWriter, req *http.Request) {
	a.runRoutine(w, mux.Vars(req)["name"], req.FormValue("order_id"))
}

func (a *api) runRoutine(w http.ResponseWriter, name, orderID string) {
	if orderID == "" {
		http.Error(w, "order_id is required", http.StatusBadRequest)
		return
	}

	err := a.runner.Run(a.ctx, name, orderID)
	switch {
	case err == nil:
	case errors.Is(err, routine.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, routine.ErrUnknownRoutine):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	default:
		log.Printf("ERROR: %s: %+v", name, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Write([]byte("Success"))
}

func (a *api) abort(w http.ResponseWriter, req *http.Request) {
	if !a.runner.Abort() {
		http.Error(w, "no routine is running", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) status(w http.ResponseWriter, req *http.Request) {
	r, err := a.orders.Robot()
	if err != nil {
		log.Printf("ERROR: robot status: %+v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		*store.Robot
		Running string `json:"running"`
	}{r, a.runner.Running()})
}

func (a *api) position(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, newPositionJSON(a.pos.Snapshot()))
}

func (a *api) listOrders(w http.ResponseWriter, req *http.Request) {
	orders, err := a.orders.Orders()
	if err != nil {
		log.Printf("ERROR: list orders: %+v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []store.Order{}
	}
	writeJSON(w, orders)
}

func (a *api) order(w http.ResponseWriter, req *http.Request) {
	o, err := a.orders.Order(mux.Vars(req)["id"])
	if errors.Is(err, store.ErrOrderNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("ERROR: get order: %+v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, o)
}

// positionStream sends the current snapshot, then every update until the
// client goes away.
func (a *api) positionStream(w http.ResponseWriter, req *http.Request) {
	ws, err := a.ws.Upgrade(w, req, nil)
	if err != nil {
		log.Println("ERROR: websocket upgrade:", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		ch := a.pos.Updated()
		ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		err = ws.WriteJSON(newPositionJSON(a.pos.Snapshot()))
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			return
		case <-ch:
		}
	}
}
