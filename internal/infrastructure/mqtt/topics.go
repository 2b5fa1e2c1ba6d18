package mqtt

// StatusTopic is where the hub publishes its own online/offline status.
// Retained so new subscribers immediately see the last known status; the
// Last Will publishes here on unexpected disconnect.
const StatusTopic = "iothub/system/status"

// The sensor-report and command topics are deployment-specific and come from
// mqtt.topics in config.yaml; they are not fixed here because existing node
// firmware already publishes on its own topic names.
