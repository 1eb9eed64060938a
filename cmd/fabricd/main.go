package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/b00ga/corefabric/fabric"
	"github.com/b00ga/corefabric/internal/netclient"
)

func main() {
	rt := fabric.NewRuntime(netclient.LinuxBridge)
	defer rt.Close()

	sess := rt.NewSession(1)
	defer sess.Close()

	ctx := context.Background()
	ctrl, err := fabric.NewControlNetwork(fabric.NetworkID(0), sess, rt.Client, rt.Queue, rt.Arena)
	if err != nil {
		logrus.WithError(err).Fatal("failed to construct control network")
	}
	if err := ctrl.Startup(ctx); err != nil {
		logrus.WithError(err).Fatal("failed to start control network")
	}
	defer ctrl.Shutdown(ctx)

	logrus.WithField("bridge", ctrl.BridgeName()).Info("fabric core up")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
