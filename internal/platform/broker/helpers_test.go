package broker

import "ticketeer/internal/platform/config"

func configBroker(kind string) config.Broker {
	return config.Broker{Kind: kind, TopicPrefix: "test"}
}
