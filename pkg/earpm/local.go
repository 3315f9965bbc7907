package earpm

import "github.com/cuemby/celixd/pkg/mqttclient"

// AddLocalHandler records a local event handler, asserts an MQTT
// subscription for each of its topics at its QoS (the caller token
// used for the reference-counted subscription table is the handler's
// own id, since handler ids are already unique), and mirrors the
// addition to peers via HandlerInfo/add.
func (p *Provider) AddLocalHandler(h HandlerInfo, qos byte) error {
	p.local.add(h, qos)
	for _, topic := range h.Topics {
		if err := p.mqtt.Subscribe(topic, qos, h.HandlerID); err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Int64("handler_id", h.HandlerID).Msg("failed to subscribe for local handler")
		}
	}
	return p.publishHandlerInfoAdd(h)
}

// RemoveLocalHandler reverses AddLocalHandler: it drops the handler's
// subscription interest (downgrading or tearing down the broker
// subscription per the remaining handlers on the same topic) and
// mirrors the removal via HandlerInfo/remove.
func (p *Provider) RemoveLocalHandler(handlerID int64) error {
	h, ok := p.local.remove(handlerID)
	if !ok {
		return nil
	}
	for _, topic := range h.info.Topics {
		if err := p.mqtt.Unsubscribe(topic, handlerID); err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Int64("handler_id", handlerID).Msg("failed to unsubscribe for local handler")
		}
	}
	return p.publishHandlerInfoRemove(handlerID)
}

func (p *Provider) publishHandlerInfoAdd(h HandlerInfo) error {
	body, err := encodeHandlerInfoAdd(h)
	if err != nil {
		return err
	}
	payload := encodeEnvelope(p.uuid, "", 0, false, body)
	return p.mqtt.PublishAsync(TopicPrefix+topicHandlerInfoAdd, payload, 0, mqttclient.PriorityMiddle)
}

func (p *Provider) publishHandlerInfoRemove(handlerID int64) error {
	body, err := encodeHandlerInfoRemove(handlerID)
	if err != nil {
		return err
	}
	payload := encodeEnvelope(p.uuid, "", 0, false, body)
	return p.mqtt.PublishAsync(TopicPrefix+topicHandlerInfoRemove, payload, 0, mqttclient.PriorityMiddle)
}

func (p *Provider) publishHandlerInfoUpdate() {
	handlers := p.local.snapshot()
	body, err := encodeHandlerInfoUpdate(handlers)
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to encode HandlerInfo/update")
		return
	}
	payload := encodeEnvelope(p.uuid, "", 0, false, body)
	if err := p.mqtt.PublishAsync(TopicPrefix+topicHandlerInfoUpdate, payload, 0, mqttclient.PriorityMiddle); err != nil {
		p.log.Warn().Err(err).Msg("failed to publish HandlerInfo/update")
	}
}
