package main

import (
	"flag"
	"log"

	"github.com/proxycraft/proxycraft"
)

func main() {
	var o proxycraft.Options
	flag.StringVar(&o.ConfigFile, "config-file", "config.json",
		"path of the JSON configuration document")
	flag.StringVar(&o.SupportListener, "support-listener", "",
		"address of the support listener serving /metrics, empty disables it")
	flag.StringVar(&o.ApplicationLogLevel, "application-log-level", "",
		"application log level: panic, fatal, error, warn, info, debug or trace")
	flag.BoolVar(&o.AccessLogDisabled, "access-log-disabled", false,
		"when set, no access log is printed")
	flag.BoolVar(&o.AccessLogJSONEnabled, "access-log-json-enabled", false,
		"when set, the access log is printed in JSON format")
	flag.Parse()

	if err := proxycraft.Run(o); err != nil {
		log.Fatal(err)
	}
}
