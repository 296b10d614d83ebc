// Package influxdb writes patchbay telemetry to InfluxDB v2.
//
// The daemon samples the graph on influxdb.sample_interval and writes one
// patchbay_graph point per sample, tagged with the instance name:
//
//	patchbay_graph,instance=studio groups=4i,ports=18i,connections=9i,...
//
// Writes are batched and non-blocking. Asynchronous failures are delivered
// to the SetOnError callback wrapped in ErrWriteFailed.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	go client.RunSampler(ctx, cfg.Instance.Name, interval, sample)
package influxdb
