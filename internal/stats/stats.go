// Package stats keeps in-process request counters for /sys/stats.
package stats

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type Statistic struct {
	mutex           sync.RWMutex
	shutdown        chan struct{}
	closeOnce       sync.Once
	Hostname        string
	StartTime       time.Time
	ProcessID       int
	ResponseCounts  map[string]int
	TotalRespCounts map[string]int
	TotalRespTime   time.Duration
	TotalRespSize   int64
	MetricCounts    map[string]int
	MetricTimers    map[string]time.Duration
}

// NewStatistic starts a statistic whose ResponseCounts cover the last second only.
func NewStatistic() *Statistic {
	hostname, _ := os.Hostname()

	statistic := &Statistic{
		shutdown:        make(chan struct{}),
		StartTime:       time.Now(),
		ProcessID:       os.Getpid(),
		ResponseCounts:  make(map[string]int),
		TotalRespCounts: make(map[string]int),
		MetricCounts:    make(map[string]int),
		MetricTimers:    make(map[string]time.Duration),
		Hostname:        hostname,
	}

	go statistic.resetResponseCountsPeriodically()

	return statistic
}

func (stat *Statistic) Close() {
	stat.closeOnce.Do(func() { close(stat.shutdown) })
}

func (stat *Statistic) resetResponseCountsPeriodically() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stat.shutdown:
			return
		case <-ticker.C:
			stat.resetResponseCounts()
		}
	}
}

func (stat *Statistic) resetResponseCounts() {
	stat.mutex.Lock()
	defer stat.mutex.Unlock()
	stat.ResponseCounts = make(map[string]int)
}

// Middleware records the status, size and latency of every request.
func (stat *Statistic) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		stat.Record(c.Writer.Status(), c.Writer.Size(), time.Since(start))
	}
}

func (stat *Statistic) Record(status, size int, duration time.Duration) {
	if status == 0 {
		return
	}
	statusCode := strconv.Itoa(status)

	stat.mutex.Lock()
	defer stat.mutex.Unlock()

	stat.ResponseCounts[statusCode]++
	stat.TotalRespCounts[statusCode]++
	stat.TotalRespTime += duration
	if size > 0 {
		stat.TotalRespSize += int64(size)
	}
}

// RecordMetric adds one observation of the named operation that began at startTime.
func (stat *Statistic) RecordMetric(metric string, startTime time.Time) {
	duration := time.Since(startTime)

	stat.mutex.Lock()
	defer stat.mutex.Unlock()

	stat.MetricCounts[metric]++
	stat.MetricTimers[metric] += duration
}

type StatisticData struct {
	ProcessID              int                `json:"pid"`
	Hostname               string             `json:"hostname"`
	UpTime                 string             `json:"uptime"`
	UpTimeSec              float64            `json:"uptime_sec"`
	Time                   string             `json:"time"`
	TimeUnix               int64              `json:"unixtime"`
	StatusCodeCount        map[string]int     `json:"status_code_count"`
	TotalStatusCodeCount   map[string]int     `json:"total_status_code_count"`
	ResponseCount          int                `json:"count"`
	TotalResponseCount     int                `json:"total_count"`
	TotalResponseTime      string             `json:"total_response_time"`
	TotalResponseTimeSec   float64            `json:"total_response_time_sec"`
	TotalResponseSize      int64              `json:"total_response_size"`
	AverageResponseSize    int64              `json:"average_response_size"`
	AverageResponseTime    string             `json:"average_response_time"`
	AverageResponseTimeSec float64            `json:"average_response_time_sec"`
	TotalMetricCounts      map[string]int     `json:"total_metrics_counts"`
	AverageMetricTimes     map[string]float64 `json:"average_metrics_timers"`
}

func (stat *Statistic) GatherData() *StatisticData {
	stat.mutex.RLock()
	defer stat.mutex.RUnlock()

	responseCounts := make(map[string]int, len(stat.ResponseCounts))
	totalResponseCounts := make(map[string]int, len(stat.TotalRespCounts))
	totalMetricCounts := make(map[string]int, len(stat.MetricCounts))
	metricTimes := make(map[string]float64, len(stat.MetricCounts))

	currentTime := time.Now()
	uptime := currentTime.Sub(stat.StartTime)

	responseCount := copyCounts(stat.ResponseCounts, responseCounts)
	totalCount := copyCounts(stat.TotalRespCounts, totalResponseCounts)

	avgResponseTime, avgResponseSize := stat.calculateAverages(totalCount)

	for metric, count := range stat.MetricCounts {
		metricTimes[metric] = (stat.MetricTimers[metric] / time.Duration(count)).Seconds()
		totalMetricCounts[metric] = count
	}

	return &StatisticData{
		ProcessID:              stat.ProcessID,
		Hostname:               stat.Hostname,
		UpTime:                 uptime.String(),
		UpTimeSec:              uptime.Seconds(),
		Time:                   currentTime.String(),
		TimeUnix:               currentTime.Unix(),
		StatusCodeCount:        responseCounts,
		TotalStatusCodeCount:   totalResponseCounts,
		ResponseCount:          responseCount,
		TotalResponseCount:     totalCount,
		TotalResponseTime:      stat.TotalRespTime.String(),
		TotalResponseSize:      stat.TotalRespSize,
		TotalResponseTimeSec:   stat.TotalRespTime.Seconds(),
		TotalMetricCounts:      totalMetricCounts,
		AverageResponseSize:    avgResponseSize,
		AverageResponseTime:    avgResponseTime.String(),
		AverageResponseTimeSec: avgResponseTime.Seconds(),
		AverageMetricTimes:     metricTimes,
	}
}

func (stat *Statistic) calculateAverages(count int) (time.Duration, int64) {
	if count == 0 {
		return 0, 0
	}
	return stat.TotalRespTime / time.Duration(count), stat.TotalRespSize / int64(count)
}

func copyCounts(src, dest map[string]int) (sum int) {
	for key, count := range src {
		dest[key] = count
		sum += count
	}
	return sum
}
