package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/inertial_calibration/internal/config"
)

// RunConsoleMQTT prints every calibration result published on
// TOPIC_CALIBRATION until interrupted.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("console: config not initialized")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}

	token := client.Subscribe(cfg.TopicCalibration, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var res CalibrationResult
		if err := json.Unmarshal(msg.Payload(), &res); err != nil {
			log.Printf("console: calibration unmarshal error: %v", err)
			return
		}
		PrintResult(os.Stdout, &res)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicCalibration)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

// PrintResult writes a human readable summary of res.
func PrintResult(w io.Writer, res *CalibrationResult) {
	fmt.Fprintf(w, "[CALIB] imu=%s at=%s static=%d motion=%d threshold=%.6g\n",
		res.IMU, res.CalibrationAt, len(res.StaticIntervals), res.MotionIntervals, res.Threshold)
	fmt.Fprintf(w, "[ACC ]  rms=%.6g iterations=%d\n%v\n", res.AccStage.RMS, res.AccStage.Iterations, res.Acc)
	fmt.Fprintf(w, "[GYRO]  rms=%.6g iterations=%d\n%v\n", res.GyroStage.RMS, res.GyroStage.Iterations, res.Gyro)
	for _, n := range res.Notes {
		fmt.Fprintf(w, "        note: %s\n", n)
	}
}
