package dashboard

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joluc/junction-console/pkg/render"
)

const namespace = "junction_console"

func (s *Server) MetricsHandler(w http.ResponseWriter, _ *http.Request) {
	s.scrapeCount.Add(1)
	snap := s.opts.Telemetry.GetSnapshot()
	stats := s.opts.Telemetry.Stats()

	up := 1.0
	if !snap.Healthy() {
		up = 0
	}

	var b strings.Builder
	b.Grow(4096)

	gauge(&b, "up", "Whether the latest telemetry refresh succeeded for both sources", "%.0f", up)
	gauge(&b, "last_refresh_timestamp_seconds", "Unix timestamp of the last telemetry refresh", "%d", unix(snap.LastRefresh))
	gauge(&b, "refresh_duration_seconds", "Duration of the latest telemetry refresh", "%.6f", snap.RefreshDuration.Seconds())
	counter(&b, "scrapes_total", "Total number of /metrics scrapes", s.scrapeCount.Load())
	counter(&b, "telemetry_ticks_total", "Telemetry refresh ticks started", stats.Ticks)
	counter(&b, "telemetry_ticks_skipped_total", "Telemetry ticks skipped because a refresh was still in flight", stats.Skipped)

	writeMetricHeader(&b, name("telemetry_failures_total"), "Failed telemetry reads by source", "counter")
	fmt.Fprintf(&b, "%s{source=\"junctions\"} %d\n", name("telemetry_failures_total"), stats.JunctionFailures)
	fmt.Fprintf(&b, "%s{source=\"vehicles\"} %d\n", name("telemetry_failures_total"), stats.VehicleFailures)

	gauge(&b, "vehicles", "Vehicles in the latest telemetry snapshot", "%d", len(snap.Vehicles))

	writeMetricHeader(&b, name("junction_vehicles"), "Vehicles at a junction", "gauge")
	writeMetricHeader(&b, name("junction_efficiency_percent"), "Signal efficiency of a junction", "gauge")
	writeMetricHeader(&b, name("junction_avg_speed_kmh"), "Average vehicle speed at a junction", "gauge")
	writeMetricHeader(&b, name("junction_waiting_time_seconds"), "Average waiting time at a junction", "gauge")
	writeMetricHeader(&b, name("junction_queue_length"), "Queued vehicles at a junction", "gauge")
	for _, j := range snap.Junctions {
		labels := fmt.Sprintf(`junction="%s",grade="%s"`, EscapeLabel(j.ID), render.JunctionColor(j.Efficiency))
		fmt.Fprintf(&b, "%s{%s} %d\n", name("junction_vehicles"), labels, j.VehiclesCount)
		fmt.Fprintf(&b, "%s{%s} %.2f\n", name("junction_efficiency_percent"), labels, j.Efficiency)
		fmt.Fprintf(&b, "%s{%s} %.2f\n", name("junction_avg_speed_kmh"), labels, j.AvgSpeed)
		fmt.Fprintf(&b, "%s{%s} %.2f\n", name("junction_waiting_time_seconds"), labels, j.WaitingTime)
		fmt.Fprintf(&b, "%s{%s} %d\n", name("junction_queue_length"), labels, j.QueueLength)
	}

	view := s.opts.SOS.View()
	byClass := map[render.Class]int{render.High: 0, render.Medium: 0, render.Low: 0}
	provisional := 0
	for _, a := range view.Alerts {
		byClass[render.PriorityClass(a.Priority)]++
		if a.Provisional {
			provisional++
		}
	}
	writeMetricHeader(&b, name("sos_active_alerts"), "Active SOS alerts by priority class", "gauge")
	for _, class := range []render.Class{render.High, render.Medium, render.Low} {
		fmt.Fprintf(&b, "%s{priority=\"%s\"} %d\n", name("sos_active_alerts"), class, byClass[class])
	}
	gauge(&b, "sos_provisional_alerts", "SOS alerts shown with an unconfirmed status", "%d", provisional)
	sosStats := s.opts.SOS.Stats()
	counter(&b, "sos_poll_ticks_total", "SOS list poll ticks started", sosStats.Ticks)
	counter(&b, "sos_poll_ticks_skipped_total", "SOS poll ticks skipped because a refresh was still in flight", sosStats.Skipped)

	if s.opts.Stream != nil {
		st := s.opts.Stream.Stats()
		connected, newAlert := 0, 0
		if st.Connected {
			connected = 1
		}
		if s.opts.Stream.NewAlert() {
			newAlert = 1
		}
		gauge(&b, "push_connected", "Whether the push channel is connected", "%d", connected)
		gauge(&b, "push_new_alert", "Whether the new alert indicator is raised", "%d", newAlert)
		counter(&b, "push_events_total", "Push events handled", st.Events)
		counter(&b, "push_events_ignored_total", "Push frames dropped as malformed or unknown", st.Ignored)
	}

	if s.opts.Notifications != nil {
		ns := s.opts.Notifications.Stats()
		writeMetricHeader(&b, name("notifications_total"), "Alert notifications by outcome", "counter")
		fmt.Fprintf(&b, "%s{result=\"sent\"} %d\n", name("notifications_total"), ns.Sent)
		fmt.Fprintf(&b, "%s{result=\"duplicate\"} %d\n", name("notifications_total"), ns.Duplicates)
		fmt.Fprintf(&b, "%s{result=\"rate_limited\"} %d\n", name("notifications_total"), ns.RateLimited)
		fmt.Fprintf(&b, "%s{result=\"failed\"} %d\n", name("notifications_total"), ns.Failed)
	}

	if summary := s.opts.Violations.View().Summary; summary != nil {
		gauge(&b, "violations_total", "Violations on record", "%d", summary.TotalViolations)
		gauge(&b, "violations_pending", "Violations awaiting review", "%d", summary.PendingViolations)
		gauge(&b, "violations_fine_amount_rupees", "Total fine amount of recorded violations", "%.2f", summary.TotalFineAmount)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = io.WriteString(w, b.String())
}

func name(metric string) string {
	return namespace + "_" + metric
}

func gauge(b *strings.Builder, metric, help, format string, value any) {
	writeMetricHeader(b, name(metric), help, "gauge")
	fmt.Fprintf(b, "%s "+format+"\n", name(metric), value)
}

func counter(b *strings.Builder, metric, help string, value uint64) {
	writeMetricHeader(b, name(metric), help, "counter")
	fmt.Fprintf(b, "%s %d\n", name(metric), value)
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func writeMetricHeader(b *strings.Builder, metric, help, metricType string) {
	fmt.Fprintf(b, "# HELP %s %s\n", metric, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", metric, metricType)
}

func EscapeLabel(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, "\n", `\n`)
	value = strings.ReplaceAll(value, `"`, `\"`)
	return value
}
