package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// NodeInfo is the node-local configuration: which validator this node serves,
// which node slot it occupies, and which pool app ids it hosts.  Everything
// else lives in the network database.
type NodeInfo struct {
	ValidatorID uint64   `json:"validatorId"`
	NodeNum     uint64   `json:"nodeNum"`
	Owner       string   `json:"owner"`
	Manager     string   `json:"manager"`
	LocalPools  []uint64 `json:"localPools"`
}

func ConfigFilename() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	cfgPath := filepath.Join(cfgDir, "reti", "reti.json")
	err = os.MkdirAll(filepath.Dir(cfgPath), 0775) // user+group RWX, others RX
	if err != nil {
		return "", fmt.Errorf("error making directory:%s, error:%w", cfgDir, err)
	}
	return cfgPath, nil
}

// SaveNodeInfo writes the node config atomically: into a temp file first,
// replacing the config file only if successfully written.
func SaveNodeInfo(info *NodeInfo) error {
	cfgName, err := ConfigFilename()
	if err != nil {
		return err
	}
	temp, err := os.CreateTemp(filepath.Dir(cfgName), filepath.Base(cfgName)+".*")
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(temp)
	err = encoder.Encode(info)
	if err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return fmt.Errorf("error saving configuration: %w", err)
	}

	err = temp.Close()
	if err != nil {
		return err
	}

	err = os.Rename(temp.Name(), cfgName)
	if err != nil {
		return err
	}
	slog.Info("state saved", "file", cfgName)
	return nil
}

func LoadNodeInfo() (*NodeInfo, error) {
	cfgName, err := ConfigFilename()
	if err != nil {
		return nil, err
	}
	file, err := os.Open(cfgName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var info NodeInfo
	err = decoder.Decode(&info)
	if err != nil {
		return nil, err
	}

	return &info, nil
}
