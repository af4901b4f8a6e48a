package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"

	"github.com/lorenzocerrone/plant-seg/pseg"
)

// KafkaConfig configures the optional activity announcements. An empty
// server list disables kafka entirely.
type KafkaConfig struct {
	Servers       []string `toml:"servers"`
	TopicActivity string   `toml:"topic_activity"`
	BufferSize    int      `toml:"buffer_size"`
}

const defaultActivityTopic = "plantseg-activity"

var (
	kafkaProducer sarama.AsyncProducer
	activityTopic string
)

// Initialize sets up the kafka async producer if servers are configured.
func (kc KafkaConfig) Initialize() error {
	if len(kc.Servers) == 0 {
		return nil
	}
	activityTopic = kc.TopicActivity
	if activityTopic == "" {
		activityTopic = defaultActivityTopic
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Return.Errors = true
	if kc.BufferSize > 0 {
		config.ChannelBufferSize = kc.BufferSize
	}

	producer, err := sarama.NewAsyncProducer(kc.Servers, config)
	if err != nil {
		return fmt.Errorf("connecting kafka producer to %v: %w", kc.Servers, err)
	}
	kafkaProducer = producer

	go func() {
		for pErr := range producer.Errors() {
			pseg.Errorf("unable to deliver kafka message: %v\n", pErr.Err)
		}
	}()
	return nil
}

// KafkaShutdown flushes and closes the producer if one was initialized.
func KafkaShutdown() {
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			pseg.Errorf("error closing kafka producer: %v\n", err)
		}
		kafkaProducer = nil
	}
}

// KafkaProduceMsg sends a value to the activity topic. It is a no-op when
// kafka is not configured.
func KafkaProduceMsg(value []byte) {
	if kafkaProducer == nil {
		return
	}
	key := fmt.Sprintf("%d", time.Now().UnixNano())
	kafkaProducer.Input() <- &sarama.ProducerMessage{
		Topic: activityTopic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
}

// activityMsg is the JSON event announced for each operation lifecycle
// transition.
type activityMsg struct {
	Event     string `json:"event"`
	JobID     string `json:"job_id"`
	StepName  string `json:"step_name"`
	OutputKey string `json:"output_key,omitempty"`
	Error     string `json:"error,omitempty"`
	Time      string `json:"time"`
}

// KafkaNotifier announces operation lifecycle events to kafka in addition
// to the package log.
type KafkaNotifier struct{}

func announce(msg activityMsg) {
	msg.Time = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		pseg.Errorf("unable to marshal activity message: %v\n", err)
		return
	}
	KafkaProduceMsg(data)
}

func (KafkaNotifier) Started(jobID, stepName string) {
	pseg.Infof("job %s: %s computation started\n", jobID, stepName)
	announce(activityMsg{Event: "started", JobID: jobID, StepName: stepName})
}

func (KafkaNotifier) Completed(jobID, stepName, outputKey string) {
	pseg.Infof("job %s: %s computation complete -> %s\n", jobID, stepName, outputKey)
	announce(activityMsg{Event: "completed", JobID: jobID, StepName: stepName, OutputKey: outputKey})
}

func (KafkaNotifier) Failed(jobID, stepName string, err error) {
	pseg.Errorf("job %s: %s failed: %v\n", jobID, stepName, err)
	announce(activityMsg{Event: "failed", JobID: jobID, StepName: stepName, Error: err.Error()})
}
