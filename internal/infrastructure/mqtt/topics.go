package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic hierarchy used by the Web-IO bridge.
//
//	webio/command/{device}/{pin}         inbound output commands
//	webio/ack/{device}/{pin}             command acknowledgements
//	webio/state/{device}/{kind}/{pin}    pin state (retained)
//	webio/health/{bridge}                bridge health (retained)
//	webio/system/status                  online/offline and LWT
const (
	// TopicPrefix is the root of every bridge topic.
	TopicPrefix = "webio"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "webio/system"
)

// Topics provides builders for bridge MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.OutputState("garage", 3) // "webio/state/garage/output/3"
type Topics struct{}

// Command returns the command topic for one output pin.
func (Topics) Command(deviceID string, pin int) string {
	return fmt.Sprintf("%s/command/%s/%d", TopicPrefix, deviceID, pin)
}

// Ack returns the acknowledgement topic for one output pin.
func (Topics) Ack(deviceID string, pin int) string {
	return fmt.Sprintf("%s/ack/%s/%d", TopicPrefix, deviceID, pin)
}

// OutputState returns the state topic for an output pin.
func (Topics) OutputState(deviceID string, pin int) string {
	return fmt.Sprintf("%s/state/%s/output/%d", TopicPrefix, deviceID, pin)
}

// InputState returns the state topic for an input pin.
func (Topics) InputState(deviceID string, pin int) string {
	return fmt.Sprintf("%s/state/%s/input/%d", TopicPrefix, deviceID, pin)
}

// Health returns the health topic for a bridge instance.
func (Topics) Health(bridgeID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, bridgeID)
}

// SystemStatus returns the system status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllCommands returns a pattern matching commands for every device and pin.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+/+"
}

// AllStates returns a pattern matching every pin state topic.
func (Topics) AllStates() string {
	return TopicPrefix + "/state/#"
}

// AllTopics returns a pattern matching all bridge topics.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseCommandTopic extracts the device ID and pin from a command topic.
func ParseCommandTopic(topic string) (deviceID string, pin int, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "command" {
		return "", 0, fmt.Errorf("%w: %q is not a command topic", ErrInvalidTopic, topic)
	}
	if parts[2] == "" {
		return "", 0, fmt.Errorf("%w: empty device in %q", ErrInvalidTopic, topic)
	}
	pin, err = strconv.Atoi(parts[3])
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad pin in %q", ErrInvalidTopic, topic)
	}
	return parts[2], pin, nil
}
