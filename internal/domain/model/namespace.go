package model

import "time"

// Namespace — зарезервированное имя SDK-сервиса.
// Хранится в таблице namespaces.
type Namespace struct {
	// ID — UUID записи
	ID string
	// Name — уникальное имя (неизменяемо после создания)
	Name string
	// OwnerPrincipal — идентификатор оператора, создавшего namespace
	OwnerPrincipal string
	// APIKey — секрет, которым процессы namespace запрашивают конфигурацию
	APIKey string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Credential — учётные данные брокера, принадлежащие namespace.
// Хранится в таблице broker_credentials, удаляется каскадно вместе с namespace.
type Credential struct {
	ID             string
	NamespaceID    string
	BrokerUsername string
	BrokerPassword string
	CreatedAt      time.Time
}

// BrokerConfig — параметры подключения к одному брокеру.
type BrokerConfig struct {
	// Protocol — тег протокола (amqp0.9.1, mqtt5.0)
	Protocol string `json:"protocol"`
	// URI — полный URI брокера с учётными данными
	URI string `json:"uri"`
	// TLS — PEM-сертификат CA (опционально)
	TLS *string `json:"tls"`
}

// ConnectionConfig — всё, что нужно удалённому процессу для подключения
// к брокеру без обращения к management API.
type ConnectionConfig struct {
	SystemName string         `json:"system_name"`
	Brokers    []BrokerConfig `json:"brokers"`
	// DataStores зарезервировано под хранилища данных, пока всегда пусто
	DataStores []DataStoreConfig `json:"data_stores"`
}

// DataStoreConfig — параметры подключения к хранилищу данных.
type DataStoreConfig struct {
	// Type — тип хранилища (minio)
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ClientConfig — конфигурация для эфемерного Client.
type ClientConfig struct {
	ConnectionConfig
	// ClientName — сгенерированное имя вида CLIENT_<uuid>
	ClientName string `json:"client_name"`
}
