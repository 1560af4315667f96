package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ConnFields 提供连接级字段，每个 worker 在整个生命周期内复用。
func ConnFields(connID, remote string) logrus.Fields {
	return logrus.Fields{
		"conn_id": connID,
		"remote":  remote,
	}
}

// RequestFields 提供方法/目标/命中状态字段，供代理请求日志复用。
func RequestFields(method, host, path string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"method":    method,
		"host":      host,
		"path":      path,
		"cache_hit": cacheHit,
	}
}
