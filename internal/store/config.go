package store

import (
	"errors"
	"os"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

func (c *BadgerConfig) check() error {
	if c.Path == "" {
		return errors.New("no path provided in configuration")
	}

	info, err := os.Stat(c.Path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(c.Path, 0o700); err != nil {
			return err
		}
		info, err = os.Stat(c.Path)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("path is not a directory")
	}

	usage, err := disk.Usage(c.Path)
	if err != nil {
		return err
	}
	freeGB := usage.Free / (1024 * 1024 * 1024)
	if int(freeGB) < c.MinimumFreeGB {
		return errors.New("not enough space available on disk")
	}

	return nil
}

// reportDiskUsage logs the disk usage of the store path.
func reportDiskUsage(path string) error {
	usage, err := disk.Usage(path)
	if err != nil {
		log.WithFields(logrus.Fields{
			"path": path,
		}).Errorf("Error retrieving disk usage stats: %v", err)
		return err
	}

	log.WithFields(logrus.Fields{
		"path":        path,
		"totalGB":     usage.Total / (1024 * 1024 * 1024),
		"freeGB":      usage.Free / (1024 * 1024 * 1024),
		"usedPercent": usage.UsedPercent,
	}).Info("Store disk usage")

	return nil
}
