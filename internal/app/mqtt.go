// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/inertial_calibration/internal/config"
)

func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	if broker == "" {
		return nil, fmt.Errorf("MQTT_BROKER is not set")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect to %s: %w", broker, token.Error())
	}
	log.Printf("connected to MQTT broker at %s as %s", broker, clientID)
	return client, nil
}

// PublishCalibration publishes res as a retained message on
// TOPIC_CALIBRATION so late subscribers get the latest calibration.
func PublishCalibration(cfg *config.Config, res *CalibrationResult) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDCalibrate)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	return publishResult(client, cfg.TopicCalibration, res)
}

func publishResult(client mqtt.Client, topic string, res *CalibrationResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("json marshal error (calibration): %w", err)
	}
	if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT publish error (%s): %w", topic, token.Error())
	}
	log.Printf("calibration: published %s result on %s", res.IMU, topic)
	return nil
}
