package routine

// Robot status checkpoints.
const (
	StatusIdle            = "IDLE"
	StatusMovingToCell    = "MOVING_TO_CELL"
	StatusTakingTheBox    = "TAKING_THE_BOX"
	StatusGettingTheBox   = "GETTING_THE_BOX"
	StatusReleasingTheBox = "RELEASING_THE_BOX"
	StatusMovingHome      = "MOVING_HOME"
	StatusFailed          = "FAILED"
)

// Order and item states.
const (
	OrderInProcess = "IN_PROCESS"
	OrderAllSet    = "ALL_SET"
	ItemsDelivered = "DELIVERED"
)

// A Tracker records order and robot progress in an external store.
type Tracker interface {
	UpdateOrderStatus(orderID, status string) error
	UpdateRobotStatus(status string) error
	ArchiveOrder(orderID string) error
	SetItemsStatus(orderID, status string) error
}
