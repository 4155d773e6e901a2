package recorder

import (
	"context"
	"time"

	"git.fiblab.net/general/common/v2/mongoutil"
	"github.com/tsinghua-fib-lab/traffic-console/telemetry"
	"github.com/tsinghua-fib-lab/traffic-console/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Mongo 每步写入一个文档的MongoDB记录器
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongo 连接MongoDB
func NewMongo(uri string, path config.RecordPath) *Mongo {
	client := mongoutil.NewClient(uri)
	log.Infof("record snapshots to mongo %s.%s", path.GetDb(), path.GetColl())
	return &Mongo{
		client: client,
		coll:   mongoutil.GetMongoColl(client, path),
	}
}

// Document 快照对应的文档
func Document(s telemetry.Snapshot) bson.D {
	return bson.D{
		{Key: "step", Value: s.TotalSteps},
		{Key: "t", Value: s.SimulationSeconds},
		{Key: "time", Value: s.SimulationTime},
		{Key: "vehicle", Value: bson.D{
			{Key: "total", Value: s.VehicleTotal},
			{Key: "running", Value: s.VehicleRunning},
			{Key: "congested", Value: s.VehicleCongested},
			{Key: "static", Value: s.VehicleStatic},
		}},
		{Key: "signal", Value: bson.D{
			{Key: "total", Value: s.SignalTotal},
			{Key: "red", Value: s.SignalRed},
			{Key: "green", Value: s.SignalGreen},
			{Key: "yellow", Value: s.SignalYellow},
		}},
		{Key: "avg_speed_kmh", Value: s.AvgSpeedKmh},
		{Key: "efficiency_pct", Value: s.TrafficEfficiencyPct},
		{Key: "recorded_at", Value: time.Now()},
	}
}

func (r *Mongo) Record(ctx context.Context, s telemetry.Snapshot) error {
	_, err := r.coll.InsertOne(ctx, Document(s))
	return err
}

func (r *Mongo) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
