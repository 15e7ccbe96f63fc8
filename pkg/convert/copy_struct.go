package convert

import (
	"reflect"

	"github.com/bytedance/sonic"
	"github.com/jinzhu/copier"
)

// StructAssign
// dst 目标结构体，src 源结构体
// 它会把src与dst的相同字段名的值，复制到dst中
func StructAssign(src any, dst any) any {
	copier.Copy(dst, src)
	return dst
}

// StructToMap 结构体转 map
// param 需要被转的数据，data 转换完成后的数据，需要用引用传进来
func StructToMap(param any, data map[string]interface{}) error {
	str, _ := sonic.Marshal(param)
	return sonic.Unmarshal(str, &data)
}

// GetStructFieldNames 返回传入结构体的所有字段名
func GetStructFieldNames(input interface{}) []string {
	getType := reflect.TypeOf(input)

	if getType.Kind() == reflect.Ptr {
		getType = getType.Elem()
	}

	if getType.Kind() != reflect.Struct {
		return nil
	}

	fields := make([]string, 0, getType.NumField())
	for i := 0; i < getType.NumField(); i++ {
		fields = append(fields, getType.Field(i).Name)
	}

	return fields
}
