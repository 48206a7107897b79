package orders

// All order lifecycle events share one topic; consumers switch on the
// x-event-type header.
const TopicOrderEvents = "orders.events"

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
