// Package channelmodel provides a performance model for the wireless
// channel that connects traffic generators to receivers.
package channelmodel

import (
	"math/rand"

	"github.com/sirupsen/logrus"
	"gitlab.com/akita/akita/v3/sim"
)

// A deliveryEvent is an event that is scheduled when a message is due to
// arrive at its destination.
type deliveryEvent struct {
	time    sim.VTimeInSec
	handler sim.Handler
	msg     sim.Msg
}

func (e deliveryEvent) Time() sim.VTimeInSec {
	return e.time
}

func (e deliveryEvent) Handler() sim.Handler {
	return e.handler
}

func (e deliveryEvent) IsSecondary() bool {
	return false
}

// LinkParams describes the behavior of the lossy link: a fixed one-way
// latency, a serialization rate, and an i.i.d. drop probability.
type LinkParams struct {
	Latency       sim.VTimeInSec
	BytePerSecond float64
	DropRate      float64
}

// A LossyChannel is a datagram channel between named ports. Messages are
// delivered after latency plus serialization time, may arrive out of order,
// and are dropped with the configured probability. There is no
// acknowledgment and no retransmission.
type LossyChannel struct {
	sim.HookableBase
	sim.EventScheduler
	sim.TimeTeller

	params LinkParams
	rng    *rand.Rand
	log    *logrus.Entry

	ports           map[string]sim.Port
	busyPorts       map[string]bool
	pendingDelivery map[string][]sim.Msg

	msgsSent      int
	msgsDropped   int
	msgsDelivered int
}

// NewLossyChannel creates a new LossyChannel with a deterministic drop
// source.
func NewLossyChannel(
	name string,
	es sim.EventScheduler,
	tt sim.TimeTeller,
	params LinkParams,
	seed int64,
) *LossyChannel {
	c := &LossyChannel{
		EventScheduler:  es,
		TimeTeller:      tt,
		params:          params,
		rng:             rand.New(rand.NewSource(seed)),
		log:             logrus.WithField("component", name),
		ports:           make(map[string]sim.Port),
		busyPorts:       make(map[string]bool),
		pendingDelivery: make(map[string][]sim.Msg),
	}

	return c
}

// PlugIn plugs a port into the channel.
func (c *LossyChannel) PlugIn(port sim.Port, bufSize int) {
	c.ports[port.Name()] = port
	port.SetConnection(c)
}

// Unplug removes a port from the channel.
func (c *LossyChannel) Unplug(port sim.Port) {
	delete(c.ports, port.Name())
}

// NotifyAvailable notifies the channel that the port can accept messages
// again. The port calls this while holding its own buffer lock, so the
// held-back deliveries cannot be pushed synchronously; they are rescheduled
// as delivery events at the current time, one message per event.
func (c *LossyChannel) NotifyAvailable(
	now sim.VTimeInSec,
	port sim.Port,
) {
	pendingDelivery := c.pendingDelivery[port.Name()]

	delete(c.busyPorts, port.Name())
	delete(c.pendingDelivery, port.Name())

	for _, msg := range pendingDelivery {
		c.Schedule(deliveryEvent{
			time:    now,
			handler: c,
			msg:     msg,
		})
	}
}

// CanSend checks if the channel can send a message. A datagram channel
// always accepts; unlucky messages are simply lost.
func (c *LossyChannel) CanSend(src sim.Port) bool {
	return true
}

// Send accepts a message and schedules its delivery, or silently loses it.
func (c *LossyChannel) Send(msg sim.Msg) *sim.SendError {
	c.msgsSent++

	if c.rng.Float64() < c.params.DropRate {
		c.msgsDropped++
		c.log.Debugf("dropped message %s to %s",
			msg.Meta().ID, msg.Meta().Dst.Name())
		return nil
	}

	arrival := c.CurrentTime() + c.params.Latency +
		c.serializationTime(msg.Meta().TrafficBytes)

	c.Schedule(deliveryEvent{
		time:    arrival,
		handler: c,
		msg:     msg,
	})

	return nil
}

// Handle delivers messages whose arrival time has come.
func (c *LossyChannel) Handle(e sim.Event) error {
	switch e := e.(type) {
	case deliveryEvent:
		return c.handleDeliveryEvent(e)
	default:
		panic("unknown event type")
	}
}

func (c *LossyChannel) handleDeliveryEvent(e deliveryEvent) error {
	msg := e.msg
	dstName := msg.Meta().Dst.Name()

	if _, busy := c.busyPorts[dstName]; busy {
		c.pendingDelivery[dstName] = append(c.pendingDelivery[dstName], msg)
		return nil
	}

	msg.Meta().RecvTime = c.CurrentTime()
	err := msg.Meta().Dst.Recv(msg)

	if err != nil {
		c.busyPorts[dstName] = true
		c.pendingDelivery[dstName] = append(c.pendingDelivery[dstName], msg)
	} else {
		c.msgsDelivered++
	}

	return nil
}

func (c *LossyChannel) serializationTime(bytes int) sim.VTimeInSec {
	if c.params.BytePerSecond <= 0 {
		return 0
	}

	return sim.VTimeInSec(float64(bytes) / c.params.BytePerSecond)
}

// Stats reports how many messages the channel accepted, dropped, and
// delivered so far.
func (c *LossyChannel) Stats() (sent, dropped, delivered int) {
	return c.msgsSent, c.msgsDropped, c.msgsDelivered
}
