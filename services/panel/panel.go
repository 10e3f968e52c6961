package main

import (
	"net/http"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/unipanel/backend/core/access"
	"github.com/unipanel/backend/core/csql"
	"github.com/unipanel/backend/core/docstore"
	"github.com/unipanel/backend/core/logger"
	"github.com/unipanel/backend/core/registry"
	"github.com/unipanel/backend/core/sampler"
	"github.com/unipanel/backend/panel"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Postgres      string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	Port          string `env:"PORT,default=3000" description:"the port this service listens on"`
	JwtSecret     string `env:"JWT_SECRET,default=" description:"the HMAC secret for developer tokens, generated and stored in the registry when empty"`
	KafkaBrokers  string `env:"KAFKA_BROKERS,default=" description:"comma separated Kafka brokers, empty disables notifications"`
	KafkaTopic    string `env:"KAFKA_TOPIC,default=panel_notification" description:"the Kafka topic for backend notifications"`
	AccessService string `env:"ACCESS_SERVICE,default=" description:"base URL of a deployed data access service, empty talks to the stores directly"`
	LogLevel      string `env:"LOG_LEVEL,default=info" description:"the log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.Init(level)
	log := logger.Default()

	db := csql.MustOpenWithSchema(service.Postgres, "unipanel")
	defer db.Close()

	// the sampler and the docstore either talk to the connected stores
	// directly or delegate to a deployed access service
	var smp sampler.Sampler
	var docs docstore.Store
	if service.AccessService != "" {
		log.Infoln("delegating store access to", service.AccessService)
		smp = sampler.NewRemote(service.AccessService)
		docs = docstore.NewRemote(service.AccessService)
	} else {
		smp = sampler.Mongo{}
		docs = docstore.Mongo{}
	}

	secret, err := access.EnsureJwtSecret(registry.MustNew(db), service.JwtSecret)
	if err != nil {
		panic(err)
	}

	router := mux.NewRouter()
	router.Use(access.NewJwtMiddleware(secret))

	builder := &panel.Builder{
		DB:      db,
		Router:  router,
		Sampler: smp,
		Docs:    docs,
	}
	if service.KafkaBrokers != "" {
		notifier := panel.NewKafkaNotifier(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer notifier.Close()
		builder.Notifier = notifier
	}
	panel.MustNew(builder)

	log.Infoln("listen on port :" + service.Port)
	http.ListenAndServe(":"+service.Port, handlers.RecoveryHandler()(router))
}
