// Пакет rbac — определение роли оператора по группам IdP.
// Любой аутентифицированный принципал — operator и управляет своими
// namespace. Роль admin даёт право управлять namespace всех владельцев.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleOperator: 1,
	RoleAdmin:    2,
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// MapGroupsToRole определяет роль по группам IdP.
// Совпадение с adminGroups даёт admin, иначе operator.
func MapGroupsToRole(groups, adminGroups []string) string {
	adminSet := toSet(adminGroups)
	for _, g := range groups {
		if adminSet[g] {
			return RoleAdmin
		}
	}
	return RoleOperator
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// CanManageNamespace сообщает, может ли принципал с ролью role
// удалять namespace владельца owner.
func CanManageNamespace(role, principal, owner string) bool {
	if role == RoleAdmin {
		return true
	}
	return principal != "" && principal == owner
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
