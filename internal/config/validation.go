package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
// 时间窗口格式与空白名单不在此处校验：两者在运行期都等价于“全部拒绝”。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return newFieldError(first.Field(), fmt.Sprintf("未通过 %s 校验（值: %v）", first.Tag(), first.Value()))
		}
		return err
	}
	return nil
}
