package scim

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServiceProviderConfig handles GET /scim/v2/ServiceProviderConfig
// (RFC 7644 5). PATCH is supported; filtering, bulk, and sorting are not.
func (h *Handlers) ServiceProviderConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"schemas": []string{"urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"},
		"patch": gin.H{
			"supported": true,
		},
		"bulk": gin.H{
			"supported":      false,
			"maxOperations":  0,
			"maxPayloadSize": 0,
		},
		"filter": gin.H{
			"supported":  false,
			"maxResults": maxPageSize,
		},
		"changePassword": gin.H{
			"supported": false,
		},
		"sort": gin.H{
			"supported": false,
		},
		"etag": gin.H{
			"supported": false,
		},
		"authenticationSchemes": []gin.H{
			{
				"name":        "OAuth Bearer Token",
				"description": "Authentication using Bearer Token",
				"specUri":     "http://www.rfc-editor.org/info/rfc6750",
				"type":        "oauthbearertoken",
			},
		},
		"meta": gin.H{
			"resourceType": "ServiceProviderConfig",
			"location":     scimBaseURL(c) + "/ServiceProviderConfig",
		},
	})
}

// ResourceTypes handles GET /scim/v2/ResourceTypes
func (h *Handlers) ResourceTypes(c *gin.Context) {
	baseURL := scimBaseURL(c)
	resourceTypes := []gin.H{
		{
			"schemas":     []string{"urn:ietf:params:scim:schemas:core:2.0:ResourceType"},
			"id":          "User",
			"name":        "User",
			"endpoint":    "/Users",
			"description": "User Account",
			"schema":      UserSchema,
			"meta": gin.H{
				"resourceType": "ResourceType",
				"location":     baseURL + "/ResourceTypes/User",
			},
		},
		{
			"schemas":     []string{"urn:ietf:params:scim:schemas:core:2.0:ResourceType"},
			"id":          "Group",
			"name":        "Group",
			"endpoint":    "/Groups",
			"description": "Group",
			"schema":      GroupSchema,
			"meta": gin.H{
				"resourceType": "ResourceType",
				"location":     baseURL + "/ResourceTypes/Group",
			},
		},
	}

	c.JSON(http.StatusOK, gin.H{
		"schemas":      []string{ListResponseSchema},
		"totalResults": len(resourceTypes),
		"itemsPerPage": len(resourceTypes),
		"startIndex":   1,
		"Resources":    resourceTypes,
	})
}

// Schemas handles GET /scim/v2/Schemas. Only the attributes this service
// actually provisions are advertised.
func (h *Handlers) Schemas(c *gin.Context) {
	schemas := []gin.H{
		{
			"schemas":     []string{"urn:ietf:params:scim:schemas:core:2.0:Schema"},
			"id":          UserSchema,
			"name":        "User",
			"description": "User Account",
			"attributes": []gin.H{
				schemaAttr("userName", "string", false, true, "server"),
				{
					"name":        "name",
					"type":        "complex",
					"multiValued": false,
					"required":    false,
					"mutability":  "readWrite",
					"returned":    "default",
					"subAttributes": []gin.H{
						schemaAttr("givenName", "string", false, false, "none"),
						schemaAttr("familyName", "string", false, false, "none"),
					},
				},
				schemaAttr("active", "boolean", false, false, "none"),
				{
					"name":        "emails",
					"type":        "complex",
					"multiValued": true,
					"required":    false,
					"mutability":  "readWrite",
					"returned":    "default",
					"subAttributes": []gin.H{
						schemaAttr("value", "string", false, false, "none"),
						schemaAttr("primary", "boolean", false, false, "none"),
					},
				},
			},
		},
		{
			"schemas":     []string{"urn:ietf:params:scim:schemas:core:2.0:Schema"},
			"id":          GroupSchema,
			"name":        "Group",
			"description": "Group",
			"attributes": []gin.H{
				schemaAttr("displayName", "string", false, true, "server"),
				{
					"name":        "members",
					"type":        "complex",
					"multiValued": true,
					"required":    false,
					"mutability":  "readWrite",
					"returned":    "default",
					"subAttributes": []gin.H{
						schemaAttr("value", "string", false, false, "none"),
						schemaAttr("display", "string", false, false, "none"),
					},
				},
			},
		},
	}

	c.JSON(http.StatusOK, gin.H{
		"schemas":      []string{ListResponseSchema},
		"totalResults": len(schemas),
		"itemsPerPage": len(schemas),
		"startIndex":   1,
		"Resources":    schemas,
	})
}

func schemaAttr(name, typ string, multiValued, required bool, uniqueness string) gin.H {
	return gin.H{
		"name":        name,
		"type":        typ,
		"multiValued": multiValued,
		"required":    required,
		"caseExact":   false,
		"mutability":  "readWrite",
		"returned":    "default",
		"uniqueness":  uniqueness,
	}
}
