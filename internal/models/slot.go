package models

// SlotBinding maps a client-generated container id (a UI photo slot) to
// the remote record id currently representing it. At most one active
// remote record may exist per container; replacing a slot deactivates the
// previous remote record before the new one is inserted.
type SlotBinding struct {
	WorkOrderID string `db:"work_order_id" json:"work_order_id"`
	ContainerID string `db:"container_id" json:"container_id"`
	RemoteID    string `db:"remote_id" json:"remote_id"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SlotBinding.
func (SlotBinding) TableName() string {
	return "slot_bindings"
}
