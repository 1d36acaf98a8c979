package types

// TodoStatus is the lifecycle state of a todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in-progress"
	TodoCompleted  TodoStatus = "completed"
	TodoCancelled  TodoStatus = "cancelled"
)

// Todo belongs to a session.
type Todo struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionID"`
	Content   string     `json:"content"`
	Status    TodoStatus `json:"status"`
}
