package main

import (
	"os"

	log "github.com/sirupsen/logrus"
)

func main() {
	log.Infoln("Starting FordPass Connect bridge...")
	GetConfig().ReadConfig()
	GetConfig().Print()
	GetDB().Connect()
	GetDB().InitDBStructure()
	FordAPIInstance = NewFordPassAPI()
	if publisher := NewMQTTPublisher(); publisher != nil {
		if err := publisher.Connect(); err != nil {
			log.Errorf("could not connect to MQTT broker: %v", err)
		} else {
			go publisher.Run()
		}
	}
	InitHTTPRouter()
	ServeHTTP()
	os.Exit(0)
}
