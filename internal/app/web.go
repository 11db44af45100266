package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/inertial_calibration/internal/config"
)

// latestResult holds the most recent calibration seen by the web server.
type latestResult struct {
	mu  sync.RWMutex
	res *CalibrationResult
}

func (l *latestResult) set(res *CalibrationResult) {
	l.mu.Lock()
	l.res = res
	l.mu.Unlock()
}

func (l *latestResult) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.res == nil {
		http.Error(w, "no calibration yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(l.res); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

// newWebMux builds the web server routes. Completed websocket calibrations
// update /api/calibration and are handed to publish when it is not nil.
func newWebMux(cfg *config.Config, dataDir, staticDir string, latest *latestResult, publish func(*CalibrationResult)) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/calibration", latest)
	mux.HandleFunc("/ws/calibration", CalibrationWSHandler(cfg, dataDir, func(res *CalibrationResult) {
		latest.set(res)
		if publish != nil {
			publish(res)
		}
	}))
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	return mux
}

// RunWeb serves the calibration websocket and the latest calibration
// published on TOPIC_CALIBRATION.
func RunWeb(dataDir string) error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("web: config not initialized")
	}

	latest := &latestResult{}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	token := client.Subscribe(cfg.TopicCalibration, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var res CalibrationResult
		if err := json.Unmarshal(msg.Payload(), &res); err != nil {
			log.Printf("web: MQTT payload unmarshal error: %v", err)
			return
		}
		latest.set(&res)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to MQTT topic %s", cfg.TopicCalibration)

	publish := func(res *CalibrationResult) {
		if err := publishResult(client, cfg.TopicCalibration, res); err != nil {
			log.Printf("web: %v", err)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, newWebMux(cfg, dataDir, "web", latest, publish))
}
