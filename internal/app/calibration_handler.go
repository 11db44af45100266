// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/inertial_calibration/internal/calib"
	"github.com/relabs-tech/inertial_calibration/internal/config"
	"github.com/relabs-tech/inertial_calibration/internal/sensors"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// CalibrationSession holds the state of one websocket client.
type CalibrationSession struct {
	IMU  string
	Conn *websocket.Conn

	cfg      *config.Config
	dataDir  string
	onResult func(*CalibrationResult)

	mu     sync.Mutex
	phase  string
	result *CalibrationResult
}

// WebSocket message types
type WSMessage struct {
	Action   string `json:"action"` // init, simulate, run, status, cancel
	IMU      string `json:"imu,omitempty"`
	AccFile  string `json:"acc_file,omitempty"`
	GyroFile string `json:"gyro_file,omitempty"`
}

type WSResponse struct {
	Type    string             `json:"type"` // phase, event, recorded, complete, status, error
	Phase   string             `json:"phase,omitempty"`
	Event   *calib.Event       `json:"event,omitempty"`
	Files   []string           `json:"files,omitempty"`
	Results *CalibrationResult `json:"results,omitempty"`
	File    string             `json:"file,omitempty"`
	Message string             `json:"message,omitempty"`
}

// CalibrationWSHandler serves calibration sessions over a websocket.
// Recordings are read from and results written to dataDir; clients only name
// files, never paths. onResult, when not nil, receives every completed
// calibration.
func CalibrationWSHandler(cfg *config.Config, dataDir string, onResult func(*CalibrationResult)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("calibration: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		session := &CalibrationSession{
			IMU:      cfg.IMUName,
			Conn:     conn,
			cfg:      cfg,
			dataDir:  dataDir,
			onResult: onResult,
		}

		// Main message loop
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("calibration: websocket read error: %v", err)
				}
				return
			}

			switch msg.Action {
			case "init":
				if msg.IMU != "" {
					session.IMU = filepath.Base(msg.IMU)
				}
				log.Printf("calibration: initialized for IMU: %s", session.IMU)
				session.sendPhase("ready")

			case "simulate":
				session.mu.Lock()
				err := session.simulate(r.Context())
				session.mu.Unlock()
				if err != nil {
					session.sendError(err.Error())
				}

			case "run":
				session.mu.Lock()
				err := session.run(msg.AccFile, msg.GyroFile)
				session.mu.Unlock()
				if err != nil {
					session.sendError(err.Error())
				}

			case "status":
				session.mu.Lock()
				session.Conn.WriteJSON(WSResponse{Type: "status", Phase: session.phase, Results: session.result})
				session.mu.Unlock()

			case "cancel":
				log.Printf("calibration: cancelled by user")
				return

			default:
				session.sendError(fmt.Sprintf("unknown action %q", msg.Action))
			}
		}
	}
}

// simulate records a simulated session for the current IMU into the data
// directory.
func (s *CalibrationSession) simulate(ctx context.Context) error {
	s.sendPhase("recording")
	src, err := sensors.NewSimSource(sensors.DefaultSimConfig(s.IMU))
	if err != nil {
		return err
	}
	accPath, gyroPath, err := RecordSession(ctx, &Recorder{Source: src}, s.dataDir, s.IMU)
	if err != nil {
		return err
	}
	return s.Conn.WriteJSON(WSResponse{
		Type:  "recorded",
		Files: []string{filepath.Base(accPath), filepath.Base(gyroPath)},
	})
}

func (s *CalibrationSession) run(accFile, gyroFile string) error {
	if accFile == "" {
		accFile = s.IMU + "_acc.txt"
	}
	if gyroFile == "" {
		gyroFile = s.IMU + "_gyro.txt"
	}

	s.sendPhase("calibrating")
	job := CalibrationJob{
		IMU:      s.IMU,
		AccFile:  filepath.Join(s.dataDir, filepath.Base(accFile)),
		GyroFile: filepath.Join(s.dataDir, filepath.Base(gyroFile)),
		OutDir:   s.dataDir,
		Progress: s.sendEvent,
	}
	res, path, err := RunCalibration(s.cfg, job)
	if err != nil {
		return err
	}
	s.result = res
	s.phase = "complete"
	if s.onResult != nil {
		s.onResult(res)
	}
	return s.Conn.WriteJSON(WSResponse{
		Type:    "complete",
		Results: res,
		File:    filepath.Base(path),
	})
}

func (s *CalibrationSession) sendPhase(phase string) {
	s.phase = phase
	s.Conn.WriteJSON(WSResponse{
		Type:  "phase",
		Phase: phase,
	})
}

func (s *CalibrationSession) sendEvent(ev calib.Event) {
	s.Conn.WriteJSON(WSResponse{
		Type:  "event",
		Phase: ev.Stage,
		Event: &ev,
	})
}

func (s *CalibrationSession) sendError(message string) {
	s.Conn.WriteJSON(WSResponse{
		Type:    "error",
		Message: message,
	})
}
