package rbac

// Account-level permission types
const (
	PermissionUserPermissionManagement          PermissionType = "USER_PERMISSION_MANAGEMENT"
	PermissionAccountManagement                 PermissionType = "ACCOUNT_MANAGEMENT"
	PermissionManageApplications                PermissionType = "MANAGE_APPLICATIONS"
	PermissionTemplateManagement                PermissionType = "TEMPLATE_MANAGEMENT"
	PermissionUserPermissionRead                PermissionType = "USER_PERMISSION_READ"
	PermissionAuditViewer                       PermissionType = "AUDIT_VIEWER"
	PermissionManageTags                        PermissionType = "MANAGE_TAGS"
	PermissionManageAccountDefaults             PermissionType = "MANAGE_ACCOUNT_DEFAULTS"
	PermissionCEAdmin                           PermissionType = "CE_ADMIN"
	PermissionCEViewer                          PermissionType = "CE_VIEWER"
	PermissionManageCloudProviders              PermissionType = "MANAGE_CLOUD_PROVIDERS"
	PermissionManageConnectors                  PermissionType = "MANAGE_CONNECTORS"
	PermissionManageApplicationStacks           PermissionType = "MANAGE_APPLICATION_STACKS"
	PermissionManageDelegates                   PermissionType = "MANAGE_DELEGATES"
	PermissionManageAlertNotificationRules      PermissionType = "MANAGE_ALERT_NOTIFICATION_RULES"
	PermissionManageDelegateProfiles            PermissionType = "MANAGE_DELEGATE_PROFILES"
	PermissionManageConfigAsCode                PermissionType = "MANAGE_CONFIG_AS_CODE"
	PermissionManageSecrets                     PermissionType = "MANAGE_SECRETS"
	PermissionManageSecretManagers              PermissionType = "MANAGE_SECRET_MANAGERS"
	PermissionManageAuthenticationSettings      PermissionType = "MANAGE_AUTHENTICATION_SETTINGS"
	PermissionManageIPWhitelist                 PermissionType = "MANAGE_IP_WHITELIST"
	PermissionManageDeploymentFreezes           PermissionType = "MANAGE_DEPLOYMENT_FREEZES"
	PermissionManagePipelineGovernanceStandards PermissionType = "MANAGE_PIPELINE_GOVERNANCE_STANDARDS"
	PermissionManageAPIKeys                     PermissionType = "MANAGE_API_KEYS"
	PermissionManageCustomDashboards            PermissionType = "MANAGE_CUSTOM_DASHBOARDS"
	PermissionCreateCustomDashboards            PermissionType = "CREATE_CUSTOM_DASHBOARDS"
	PermissionManageSSHAndWinRM                 PermissionType = "MANAGE_SSH_AND_WINRM"
	PermissionManageRestrictedAccess            PermissionType = "MANAGE_RESTRICTED_ACCESS"
	PermissionHideNextGenButton                 PermissionType = "HIDE_NEXTGEN_BUTTON"
)

// AllAccountPermissions returns every account-level permission type.
func AllAccountPermissions() []PermissionType {
	return []PermissionType{
		PermissionUserPermissionManagement,
		PermissionAccountManagement,
		PermissionManageApplications,
		PermissionTemplateManagement,
		PermissionUserPermissionRead,
		PermissionAuditViewer,
		PermissionManageTags,
		PermissionManageAccountDefaults,
		PermissionCEAdmin,
		PermissionCEViewer,
		PermissionManageCloudProviders,
		PermissionManageConnectors,
		PermissionManageApplicationStacks,
		PermissionManageDelegates,
		PermissionManageAlertNotificationRules,
		PermissionManageDelegateProfiles,
		PermissionManageConfigAsCode,
		PermissionManageSecrets,
		PermissionManageSecretManagers,
		PermissionManageAuthenticationSettings,
		PermissionManageIPWhitelist,
		PermissionManageDeploymentFreezes,
		PermissionManagePipelineGovernanceStandards,
		PermissionManageAPIKeys,
		PermissionManageCustomDashboards,
		PermissionCreateCustomDashboards,
		PermissionManageSSHAndWinRM,
		PermissionManageRestrictedAccess,
		PermissionHideNextGenButton,
	}
}

// DefaultEnabledAccountPermissions returns the account permissions granted to
// administrators and support users. HIDE_NEXTGEN_BUTTON is opt-in.
func DefaultEnabledAccountPermissions() PermissionTypeSet {
	out := make(PermissionTypeSet)
	for _, p := range AllAccountPermissions() {
		if p != PermissionHideNextGenButton {
			out.Add(p)
		}
	}
	return out
}

// IsAccountPermission reports whether p is an account-level permission type.
func IsAccountPermission(p PermissionType) bool {
	for _, ap := range AllAccountPermissions() {
		if ap == p {
			return true
		}
	}
	return false
}
