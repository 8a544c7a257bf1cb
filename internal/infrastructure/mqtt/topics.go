package mqtt

import "fmt"

// Topic prefixes for the RENKEI MQTT surface.
//
// Motor topics use the flat scheme: renkei/motor/{motor_id}/{channel}
const (
	// TopicPrefixMotor is the base for all motor topics.
	TopicPrefixMotor = "renkei/motor"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "renkei/system"
)

// Topics provides builders for RENKEI MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.MotorState("blind-office")
//	// Returns: "renkei/motor/blind-office/state"
type Topics struct{}

// MotorState returns the topic for motor state updates.
// Published retained so new subscribers see the last known position.
//
// Example: renkei/motor/blind-office/state
func (Topics) MotorState(motorID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixMotor, motorID)
}

// MotorCommand returns the topic for inbound motor commands.
//
// Example: renkei/motor/blind-office/command
func (Topics) MotorCommand(motorID string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixMotor, motorID)
}

// MotorAck returns the topic for command acknowledgements.
// One ack is published per command received on the command topic.
//
// Example: renkei/motor/blind-office/ack
func (Topics) MotorAck(motorID string) string {
	return fmt.Sprintf("%s/%s/ack", TopicPrefixMotor, motorID)
}

// MotorAvailability returns the topic for motor connection availability.
// Published retained with "online"/"offline" payloads.
//
// Example: renkei/motor/blind-office/availability
func (Topics) MotorAvailability(motorID string) string {
	return fmt.Sprintf("%s/%s/availability", TopicPrefixMotor, motorID)
}

// MotorHealth returns the topic for motor link health reports.
//
// Example: renkei/motor/blind-office/health
func (Topics) MotorHealth(motorID string) string {
	return fmt.Sprintf("%s/%s/health", TopicPrefixMotor, motorID)
}

// SystemStatus returns the service status topic.
// The Last Will and Testament is also published here.
//
// Example: renkei/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllMotorCommands returns a pattern matching all motor command topics.
//
// Pattern: renkei/motor/+/command
func (Topics) AllMotorCommands() string {
	return fmt.Sprintf("%s/+/command", TopicPrefixMotor)
}

// AllMotorStates returns a pattern matching all motor state topics.
//
// Pattern: renkei/motor/+/state
func (Topics) AllMotorStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixMotor)
}

// AllTopics returns a pattern matching all RENKEI topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: renkei/#
func (Topics) AllTopics() string {
	return "renkei/#"
}
