// models.go — тела запросов и ответов RabbitMQ Management HTTP API.
package broker

// userBody — тело PUT /api/users/{name}.
type userBody struct {
	Password string   `json:"password"` //nolint:gosec // G117: пароль учётки брокера
	Tags     []string `json:"tags"`
}

// permissionsBody — тело PUT /api/permissions/{vhost}/{user}.
type permissionsBody struct {
	Configure string `json:"configure"`
	Write     string `json:"write"`
	Read      string `json:"read"`
}

// topicPermissionsBody — тело PUT /api/topic-permissions/{vhost}/{user}.
type topicPermissionsBody struct {
	Exchange string `json:"exchange"`
	Write    string `json:"write"`
	Read     string `json:"read"`
}

// Overview — фрагмент ответа GET /api/overview.
type Overview struct {
	ClusterName     string `json:"cluster_name"`
	RabbitMQVersion string `json:"rabbitmq_version"`
}
